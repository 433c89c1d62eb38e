package sync

import (
	"context"
	"sync"
	"time"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
	imapservice "github.com/oneinbox/mailsync/services/imap"
)

const (
	StateConnecting = "connecting"
	StateSyncing    = "syncing"
	StateIdling     = "idling"
	StateBackoff    = "backoff"
	StateStopped    = "stopped"

	syncStatusConnected = "connected"
	syncStatusError     = "error"
)

// supervisor owns one account's connection lifecycle: dial, initial
// pass, idle, triggered passes, reconnect with backoff. Exactly one
// session exists per supervisor at any time; a new one is dialed only
// after the previous is logged out.
type supervisor struct {
	account  *models.Account
	engine   *Engine
	dialer   interfaces.SessionDialer
	accounts interfaces.AccountRepository
	policy   RetryPolicy
	log      logger.Logger

	// signals carries refresh requests; capacity one so a pending
	// request absorbs any number of further ones.
	signals chan struct{}

	mu     sync.RWMutex
	status interfaces.AccountSyncStatus

	done chan struct{}
}

func newSupervisor(
	account *models.Account,
	engine *Engine,
	dialer interfaces.SessionDialer,
	accounts interfaces.AccountRepository,
	policy RetryPolicy,
	log logger.Logger,
) *supervisor {
	return &supervisor{
		account:  account,
		engine:   engine,
		dialer:   dialer,
		accounts: accounts,
		policy:   policy,
		log:      log,
		signals:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Refresh requests an immediate pass. Non-blocking; a request already
// queued covers this one too.
func (s *supervisor) Refresh() {
	select {
	case s.signals <- struct{}{}:
	default:
	}
}

func (s *supervisor) Status() interfaces.AccountSyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *supervisor) setState(state string) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *supervisor) setError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

func (s *supervisor) recordPass(result *PassResult) {
	s.mu.Lock()
	s.status.LastError = ""
	s.status.LastSync = time.Now().UTC()
	if result != nil && result.Cursor != nil {
		s.status.LastUID = result.Cursor.LastUID
		s.status.UIDValidity = result.Cursor.UIDValidity
	}
	s.mu.Unlock()
}

// run is the supervisor loop. It returns only when ctx is cancelled.
func (s *supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		session, err := s.dialer.Dial(ctx, s.account)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("account %s connect failed: %v", s.account.ID, err)
			s.setError(err)
			s.reportStatus(syncStatusError, err.Error())
			s.setState(StateBackoff)
			if !sleepCtx(ctx, s.policy.ConnectRetryIn()) {
				return
			}
			continue
		}

		err = s.serve(ctx, session)
		session.Logout()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Errorf("account %s session ended: %v", s.account.ID, err)
			s.setError(err)
			s.reportStatus(syncStatusError, err.Error())
		}
		s.setState(StateBackoff)
		if !sleepCtx(ctx, s.policy.SessionRetryIn(imapservice.IsConnectionError(err))) {
			return
		}
	}
}

// serve drives one session: an immediate pass, then idle interleaved
// with triggered passes until the session fails or ctx ends. A nil
// return means a clean shutdown.
func (s *supervisor) serve(ctx context.Context, session interfaces.MailSession) error {
	if err := s.syncPass(ctx, session); err != nil {
		return err
	}

	for {
		idleStop := make(chan struct{})
		idleErr := make(chan error, 1)
		go func() {
			session.AcquireMailbox()
			defer session.ReleaseMailbox()
			idleErr <- session.Idle(ctx, idleStop)
		}()
		s.setState(StateIdling)

		renew := time.NewTimer(s.policy.IdleRenewal)
		trigger, idleEnded, err := s.awaitTrigger(ctx, session, idleErr, renew.C)
		renew.Stop()

		// Idle must be fully stopped before a pass can take the
		// mailbox.
		close(idleStop)
		if !idleEnded {
			err = <-idleErr
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if trigger {
			if err := s.syncPass(ctx, session); err != nil {
				return err
			}
		}
	}
}

// syncPass runs a pass and keeps the session alive through index or
// parse failures; the cursor stays frozen and the next trigger retries.
// Only a dead connection ends the session.
func (s *supervisor) syncPass(ctx context.Context, session interfaces.MailSession) error {
	err := s.runPass(ctx, session)
	if err == nil {
		return nil
	}
	if imapservice.IsConnectionError(err) {
		return err
	}
	s.log.Errorf("account %s sync pass failed: %v", s.account.ID, err)
	s.setError(err)
	s.reportStatus(syncStatusError, err.Error())
	return nil
}

// awaitTrigger blocks in idle until something demands attention. It
// reports whether a sync pass is wanted and whether the idle goroutine
// has already returned; a renewal tick restarts idle without a pass.
func (s *supervisor) awaitTrigger(ctx context.Context, session interfaces.MailSession, idleErr <-chan error, renew <-chan time.Time) (trigger, idleEnded bool, err error) {
	select {
	case <-ctx.Done():
		return false, false, nil
	case err := <-idleErr:
		// Idle returned on its own; a nil error here is treated as a
		// renewal.
		return false, true, err
	case <-renew:
		return false, false, nil
	case <-s.signals:
		return true, false, nil
	case <-session.Notifications():
		s.debounce(ctx, session)
		return true, false, nil
	}
}

// debounce lets a burst of new-mail signals settle so one pass covers
// all of them.
func (s *supervisor) debounce(ctx context.Context, session interfaces.MailSession) {
	if s.policy.Debounce <= 0 {
		return
	}
	timer := time.NewTimer(s.policy.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Notifications():
			// keep absorbing
		case <-s.signals:
		case <-timer.C:
			return
		}
	}
}

func (s *supervisor) runPass(ctx context.Context, session interfaces.MailSession) error {
	s.setState(StateSyncing)
	result, err := s.engine.PerformSync(ctx, s.account, session)
	if err != nil {
		return err
	}
	s.recordPass(result)
	s.reportStatus(syncStatusConnected, "")
	return nil
}

// reportStatus mirrors supervisor health onto the account row,
// best-effort.
func (s *supervisor) reportStatus(status, errorMessage string) {
	if s.accounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.accounts.UpdateSyncStatus(ctx, s.account.ID, status, errorMessage); err != nil {
		s.log.Warnf("account %s status update failed: %v", s.account.ID, err)
	}
}

// sleepCtx waits d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
