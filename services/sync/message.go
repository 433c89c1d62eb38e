package sync

import (
	"bytes"
	"net/mail"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/utils"
)

// buildRecord parses one raw message into an index record. The label is
// left empty; the engine classifies after parsing so a slow classifier
// cannot fail the parse.
func buildRecord(raw interfaces.RawMessage, account *models.Account, sanitizer interfaces.Sanitizer) (*models.EmailRecord, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Source))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	subject := env.GetHeader("Subject")
	from := env.GetHeader("From")
	messageID := env.GetHeader("Message-Id")

	date := utils.Now()
	if header := env.GetHeader("Date"); header != "" {
		if parsed, err := mail.ParseDate(header); err == nil {
			date = parsed.UTC()
		}
	}

	bodyHTML := ""
	if env.HTML != "" {
		bodyHTML = sanitizer.Sanitize(env.HTML)
	}

	bodyText := env.Text
	if bodyText == "" && bodyHTML != "" {
		if text, err := html2text.FromString(bodyHTML, html2text.Options{TextOnly: true}); err == nil {
			bodyText = text
		}
	}

	return &models.EmailRecord{
		ID:        models.EmailRecordID(subject, date, account.ImapUsername),
		From:      from,
		Subject:   subject,
		BodyHTML:  bodyHTML,
		BodyText:  bodyText,
		Date:      date,
		MessageID: messageID,
		AccountID: account.ID,
		MailUser:  account.ImapUsername,
		Seen:      raw.Seen,
		UID:       raw.UID,
	}, nil
}
