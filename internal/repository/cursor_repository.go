package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
	"github.com/oneinbox/mailsync/internal/utils"
)

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) interfaces.CursorRepository {
	return &cursorRepository{db: db}
}

// GetCursor retrieves the sync cursor for an account; nil when the
// account has never completed a pass.
func (r *cursorRepository) GetCursor(ctx context.Context, accountID string) (*models.SyncCursor, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.GetCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var cursor models.SyncCursor
	result := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&cursor)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync cursor: %w", result.Error)
	}

	return &cursor, nil
}

func (r *cursorRepository) SaveCursor(ctx context.Context, cursor *models.SyncCursor) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.SaveCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	cursor.LastSync = utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.SyncCursor{}).
		Where("account_id = ?", cursor.AccountID).
		Updates(map[string]interface{}{
			"last_uid":     cursor.LastUID,
			"uid_validity": cursor.UIDValidity,
			"last_sync":    cursor.LastSync,
			"updated_at":   utils.Now(),
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(cursor)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync cursor: %w", result.Error)
	}

	return nil
}

func (r *cursorRepository) DeleteCursor(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.DeleteCursor")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.SyncCursor{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync cursor: %w", result.Error)
	}

	return nil
}
