package interfaces

import (
	"context"

	"github.com/oneinbox/mailsync/internal/models"
)

// BulkResult reports the per-record outcome of one bulk upsert. A call
// with failed items is still a successful call; callers decide how far
// the cursor may advance from the Failed map.
type BulkResult struct {
	Indexed int
	// Failed maps record id to the index error reason.
	Failed map[string]string
}

func (r *BulkResult) FailedID(id string) bool {
	_, ok := r.Failed[id]
	return ok
}

// IndexWriter is the durable sink for email records. Upserts are keyed
// by record id with overwrite semantics.
type IndexWriter interface {
	EnsureIndex(ctx context.Context) error
	BulkUpsert(ctx context.Context, records []*models.EmailRecord) (*BulkResult, error)
	Search(ctx context.Context, query, accountID string, limit int) ([]*models.EmailRecord, error)
	Count(ctx context.Context) (int64, error)
}
