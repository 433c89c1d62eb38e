package interfaces

import (
	"context"
	"time"

	"github.com/oneinbox/mailsync/internal/models"
)

// AccountSyncStatus is the externally visible health of one account's
// supervisor.
type AccountSyncStatus struct {
	State       string
	LastError   string
	LastSync    time.Time
	LastUID     uint32
	UIDValidity uint32
}

// SyncService is the public start/stop surface over all account
// supervisors. Start and Stop report only registry outcomes; sync
// health is observed through Status and logs.
type SyncService interface {
	// Start registers a supervisor for the account and begins
	// connecting asynchronously. If the account already has one it is
	// stopped first (idempotent restart).
	Start(ctx context.Context, account *models.Account) error

	// Stop tears down the account's supervisor and session. No-op when
	// the account is not registered.
	Stop(accountID string)

	// StopAll stops every registered account, bounded by a shutdown
	// timeout. Used at process shutdown.
	StopAll()

	// Refresh requests an immediate sync pass for a running account.
	Refresh(accountID string) error

	Status() map[string]AccountSyncStatus
}

// AccountRepository persists accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetAll(ctx context.Context) ([]*models.Account, error)
	GetEnabled(ctx context.Context) ([]*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
	UpdateSyncStatus(ctx context.Context, id, status, errorMessage string) error
	Delete(ctx context.Context, id string) error
}

// CursorRepository persists per-account sync cursors so they survive
// supervisor reconnects (and, with the database implementation,
// process restarts).
type CursorRepository interface {
	GetCursor(ctx context.Context, accountID string) (*models.SyncCursor, error)
	SaveCursor(ctx context.Context, cursor *models.SyncCursor) error
	DeleteCursor(ctx context.Context, accountID string) error
}
