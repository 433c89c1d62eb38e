package models

import (
	"time"
)

// SyncCursor is the persisted synchronization position for an account's
// mailbox: the highest UID already indexed plus the UIDVALIDITY token it
// was observed under. A UIDVALIDITY change invalidates LastUID.
type SyncCursor struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID   string    `gorm:"column:account_id;type:varchar(50);uniqueIndex;not null"`
	LastUID     uint32    `gorm:"column:last_uid;not null"`
	UIDValidity uint32    `gorm:"column:uid_validity;not null"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
