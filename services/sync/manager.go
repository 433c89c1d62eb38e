package sync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
)

type ManagerConfig struct {
	// ShutdownTimeoutSeconds bounds how long StopAll waits for
	// supervisors to wind down.
	ShutdownTimeoutSeconds int `env:"SYNC_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`
}

type runningSupervisor struct {
	sup    *supervisor
	cancel context.CancelFunc
}

// Manager is the registry of account supervisors and the implementation
// of the sync service surface. Each Manager instance owns its own
// supervisors; none of the state is process-global.
type Manager struct {
	config   ManagerConfig
	engine   *Engine
	dialer   interfaces.SessionDialer
	accounts interfaces.AccountRepository
	policy   RetryPolicy
	log      logger.Logger

	mu          sync.Mutex
	supervisors map[string]*runningSupervisor

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewManager(
	config ManagerConfig,
	engine *Engine,
	dialer interfaces.SessionDialer,
	accounts interfaces.AccountRepository,
	policy RetryPolicy,
	log logger.Logger,
) *Manager {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Manager{
		config:      config,
		engine:      engine,
		dialer:      dialer,
		accounts:    accounts,
		policy:      policy,
		log:         log,
		supervisors: map[string]*runningSupervisor{},
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}
}

// Start registers a supervisor for the account and begins connecting in
// the background. An existing supervisor for the same account is torn
// down first, so Start doubles as restart.
func (m *Manager) Start(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID == "" {
		return errors.New("account is required")
	}
	if err := m.rootCtx.Err(); err != nil {
		return errors.New("sync manager is shut down")
	}

	sup := newSupervisor(account, m.engine, m.dialer, m.accounts, m.policy, m.log)
	supCtx, cancel := context.WithCancel(m.rootCtx)

	// Swap under one critical section so two racing Starts can never
	// both register; the displaced supervisor is wound down before the
	// replacement connects.
	m.mu.Lock()
	old := m.supervisors[account.ID]
	m.supervisors[account.ID] = &runningSupervisor{sup: sup, cancel: cancel}
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		select {
		case <-old.sup.done:
		case <-time.After(m.shutdownTimeout()):
			m.log.Warnf("supervisor for account %s did not stop in time", account.ID)
		}
	}

	go sup.run(supCtx)
	m.log.Infof("started sync supervisor for account %s", account.ID)
	return nil
}

// Stop tears down the account's supervisor, waiting for its session to
// close. Safe to call for accounts that were never started.
func (m *Manager) Stop(accountID string) {
	m.mu.Lock()
	running, ok := m.supervisors[accountID]
	if ok {
		delete(m.supervisors, accountID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	running.cancel()
	select {
	case <-running.sup.done:
	case <-time.After(m.shutdownTimeout()):
		m.log.Warnf("supervisor for account %s did not stop in time", accountID)
	}
	m.log.Infof("stopped sync supervisor for account %s", accountID)
}

// StopAll cancels every supervisor and waits for all of them together,
// bounded by the shutdown timeout.
func (m *Manager) StopAll() {
	m.rootCancel()

	m.mu.Lock()
	running := make([]*runningSupervisor, 0, len(m.supervisors))
	for _, r := range m.supervisors {
		running = append(running, r)
	}
	m.supervisors = map[string]*runningSupervisor{}
	m.mu.Unlock()

	deadline := time.After(m.shutdownTimeout())
	for _, r := range running {
		r.cancel()
		select {
		case <-r.sup.done:
		case <-deadline:
			m.log.Warnf("shutdown timeout reached with supervisors still running")
			return
		}
	}
}

// Refresh requests an immediate pass for a running account.
func (m *Manager) Refresh(accountID string) error {
	m.mu.Lock()
	running, ok := m.supervisors[accountID]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("account %s is not syncing", accountID)
	}
	running.sup.Refresh()
	return nil
}

func (m *Manager) Status() map[string]interfaces.AccountSyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make(map[string]interfaces.AccountSyncStatus, len(m.supervisors))
	for id, running := range m.supervisors {
		statuses[id] = running.sup.Status()
	}
	return statuses
}

func (m *Manager) shutdownTimeout() time.Duration {
	if m.config.ShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.config.ShutdownTimeoutSeconds) * time.Second
}
