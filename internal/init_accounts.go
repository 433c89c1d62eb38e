package internal

import (
	"context"

	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/services"
)

// InitAccounts starts a sync supervisor for every enabled account at
// boot. Individual start failures do not abort the rest; the reconcile
// job retries them.
func InitAccounts(ctx context.Context, s *services.Services, repos *repository.Repositories, log logger.Logger) error {
	accounts, err := repos.AccountRepository.GetEnabled(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if err := s.SyncService.Start(ctx, account); err != nil {
			log.Errorf("failed to start sync for account %s: %v", account.ID, err)
			continue
		}
	}

	log.Infof("started sync for %d accounts", len(accounts))
	return nil
}
