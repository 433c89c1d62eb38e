package interfaces

import (
	"context"
	"time"

	"github.com/oneinbox/mailsync/internal/models"
)

// MailboxState is the remote mailbox snapshot read at the start of a
// sync pass.
type MailboxState struct {
	Messages    uint32
	NextUID     uint32
	UIDValidity uint32
}

// RawMessage is one fetched message source plus the flags that came
// with it.
type RawMessage struct {
	UID    uint32
	Source []byte
	Seen   bool
}

// MailSession is an authenticated, stateful connection to one remote
// mailbox. Implementations are single-writer: callers must hold the
// mailbox lock around any protocol operation, so a sync pass and an
// idle renewal never overlap on the same session.
type MailSession interface {
	// State reads message count, next-uid watermark and UIDVALIDITY.
	State(ctx context.Context) (*MailboxState, error)

	// SearchSinceUID returns the UIDs of all messages with UID >= from.
	SearchSinceUID(ctx context.Context, from uint32) ([]uint32, error)

	// SearchSinceDate returns the UIDs of all messages received since
	// the given time.
	SearchSinceDate(ctx context.Context, since time.Time) ([]uint32, error)

	// RecentUIDs returns the UIDs of the most recent limit messages by
	// sequence position; the fallback when a date search yields nothing.
	RecentUIDs(ctx context.Context, limit int) ([]uint32, error)

	// FetchSources retrieves the full source of each message. Messages
	// the server no longer has are silently absent from the result.
	FetchSources(ctx context.Context, uids []uint32) ([]RawMessage, error)

	// Idle blocks in the server-push listening mode until stop is
	// closed, the context is cancelled, or the connection fails.
	Idle(ctx context.Context, stop <-chan struct{}) error

	// Notifications signals arrival of new mail while idling. Signals
	// are advisory; bursts may be coalesced.
	Notifications() <-chan struct{}

	// AcquireMailbox takes exclusive access to the mailbox resource for
	// this session; ReleaseMailbox gives it back.
	AcquireMailbox()
	ReleaseMailbox()

	Logout() error
}

// SessionDialer opens authenticated sessions for accounts.
type SessionDialer interface {
	Dial(ctx context.Context, account *models.Account) (MailSession, error)
}
