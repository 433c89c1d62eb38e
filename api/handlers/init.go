package handlers

import (
	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/repository"
)

type APIHandlers struct {
	Accounts *AccountsHandler
	Emails   *EmailsHandler
}

func InitHandlers(r *repository.Repositories, syncService interfaces.SyncService, index interfaces.IndexWriter) *APIHandlers {
	return &APIHandlers{
		Accounts: NewAccountsHandler(r, syncService),
		Emails:   NewEmailsHandler(syncService, index),
	}
}
