package repository

import (
	"gorm.io/gorm"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
	CursorRepository  interfaces.CursorRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
		CursorRepository:  NewCursorRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.SyncCursor{},
	)
}
