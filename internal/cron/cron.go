package cron

import (
	"context"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/oneinbox/mailsync/interfaces"
	cron_config "github.com/oneinbox/mailsync/internal/cron/config"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/tracing"
)

const (
	// GroupSync serializes jobs that touch the supervisor registry.
	GroupSync = "sync"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

// CronManager schedules the periodic jobs: a heartbeat and the account
// reconciler that keeps running supervisors aligned with the accounts
// table.
type CronManager struct {
	log         logger.Logger
	cron        *cronv3.Cron
	stopCh      chan struct{}
	jobIDs      map[string]cronv3.EntryID
	accounts    interfaces.AccountRepository
	syncService interfaces.SyncService
}

func NewCronManager(log logger.Logger, accounts interfaces.AccountRepository, syncService interfaces.SyncService) *CronManager {
	return &CronManager{
		log:         log,
		stopCh:      make(chan struct{}),
		jobIDs:      make(map[string]cronv3.EntryID),
		accounts:    accounts,
		syncService: syncService,
	}
}

func (cm *CronManager) Start() {
	cm.StartCron()
}

// Stop gracefully stops the cron manager, waiting for running jobs.
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// StartCron initializes and starts the cron scheduler.
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// registerJobs adds all cron jobs to the scheduler. A job with an empty
// schedule is disabled.
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat, %d accounts syncing", len(cm.syncService.Status()))
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleReconcileAccounts != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleReconcileAccounts, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSync].Lock()
			defer jobLocks.locks[GroupSync].Unlock()
			cm.reconcileAccounts()
		})
		if err != nil {
			cm.log.Fatalf("Could not add reconcile accounts cron job: %v", err)
		}
		cm.jobIDs["reconcile_accounts"] = id
		cm.log.Infof("Registered reconcile accounts job with schedule: %s", cronConfig.CronScheduleReconcileAccounts)
	}
}

// reconcileAccounts starts supervisors for enabled accounts that are
// not syncing yet and stops supervisors whose account was disabled or
// deleted. Accounts already running are left alone.
func (cm *CronManager) reconcileAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.reconcileAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.accounts.GetEnabled(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to load enabled accounts: %v", err)
		return
	}

	running := cm.syncService.Status()

	enabled := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		enabled[account.ID] = true
		if _, ok := running[account.ID]; ok {
			continue
		}
		if err := cm.syncService.Start(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to start sync for account %s: %v", account.ID, err)
		}
	}

	for accountID := range running {
		if !enabled[accountID] {
			cm.syncService.Stop(accountID)
		}
	}

	span.LogKV("enabled", len(accounts), "running", len(running))
}
