package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// EmailRecord is the search index document produced for one message.
// Never mutated after creation; re-fetches of the same logical message
// overwrite it through an upsert keyed by ID.
type EmailRecord struct {
	ID        string    `json:"-"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"body_html"`
	BodyText  string    `json:"body_text"`
	Date      time.Time `json:"date"`
	MessageID string    `json:"messageId"`
	Label     string    `json:"label"`
	AccountID string    `json:"account_id"`
	MailUser  string    `json:"imap_user"`
	Seen      bool      `json:"seen"`
	UID       uint32    `json:"uid"`
}

// EmailRecordID derives the deterministic document id from the message
// subject, date and mailbox identity. The protocol UID is intentionally
// excluded so re-indexing after a UIDVALIDITY change stays idempotent;
// the trade-off is that two messages sharing subject and date on one
// account collide onto the same record.
func EmailRecordID(subject string, date time.Time, mailUser string) string {
	sum := md5.Sum([]byte(subject + date.UTC().Format(time.RFC3339) + mailUser))
	return hex.EncodeToString(sum[:])
}
