package repository

import (
	"context"
	"sync"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
)

// inMemoryCursorRepository keeps cursors in process memory. Sufficient
// when resumable sync across restarts is not needed; cursors still
// survive supervisor-level reconnects.
type inMemoryCursorRepository struct {
	mu      sync.RWMutex
	cursors map[string]models.SyncCursor
}

func NewInMemoryCursorRepository() interfaces.CursorRepository {
	return &inMemoryCursorRepository{
		cursors: make(map[string]models.SyncCursor),
	}
}

func (r *inMemoryCursorRepository) GetCursor(ctx context.Context, accountID string) (*models.SyncCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cursor, ok := r.cursors[accountID]
	if !ok {
		return nil, nil
	}
	return &cursor, nil
}

func (r *inMemoryCursorRepository) SaveCursor(ctx context.Context, cursor *models.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursors[cursor.AccountID] = *cursor
	return nil
}

func (r *inMemoryCursorRepository) DeleteCursor(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cursors, accountID)
	return nil
}
