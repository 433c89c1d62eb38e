package interfaces

import (
	"context"

	"github.com/oneinbox/mailsync/internal/models"
)

// LabelUnclassified is assigned whenever classification is unavailable
// or fails; classification is strictly best-effort.
const LabelUnclassified = "Unclassified"

// Classifier assigns a label to an email record. Implementations must
// not block indefinitely; the engine passes a bounded context.
type Classifier interface {
	Classify(ctx context.Context, record *models.EmailRecord) (string, error)
}

// Sanitizer reduces arbitrary HTML to an allow-listed safe subset.
// Pure and total: unsafe constructs are stripped, never rejected.
type Sanitizer interface {
	Sanitize(html string) string
}
