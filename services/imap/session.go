package imap

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
)

const (
	// fetchBodyPeek retrieves full message source without flipping the
	// \Seen flag on the server.
	fetchBodyPeek = imap.FetchItem("BODY.PEEK[]")

	idleLogoutTimeout = 25 * time.Minute
	idlePollInterval  = time.Minute
)

type session struct {
	c       *client.Client
	account *models.Account
	log     logger.Logger

	// mailboxMu serializes protocol commands on this connection; a
	// sync pass and an idle listener must never interleave.
	mailboxMu sync.Mutex

	updates       chan client.Update
	notifications chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

func newSession(c *client.Client, account *models.Account, log logger.Logger) *session {
	s := &session{
		c:             c,
		account:       account,
		log:           log,
		updates:       make(chan client.Update, 100),
		notifications: make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	c.Updates = s.updates
	go s.pumpUpdates()
	return s
}

// pumpUpdates drains unilateral server updates for the lifetime of the
// session and turns mailbox updates into new-mail signals. The updates
// channel must always have a reader or the client deadlocks.
func (s *session) pumpUpdates() {
	for {
		select {
		case <-s.done:
			return
		case update := <-s.updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				select {
				case s.notifications <- struct{}{}:
				default:
					// a signal is already pending; bursts coalesce
				}
			}
		}
	}
}

func (s *session) AcquireMailbox() {
	s.mailboxMu.Lock()
}

func (s *session) ReleaseMailbox() {
	s.mailboxMu.Unlock()
}

func (s *session) Notifications() <-chan struct{} {
	return s.notifications
}

func (s *session) State(ctx context.Context) (*interfaces.MailboxState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.State")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mbox, err := s.c.Select(s.account.Folder, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to select %s", s.account.Folder)
	}

	span.LogKV("messages", mbox.Messages, "uidnext", mbox.UidNext, "uidvalidity", mbox.UidValidity)
	return &interfaces.MailboxState{
		Messages:    mbox.Messages,
		NextUID:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}, nil
}

func (s *session) SearchSinceUID(ctx context.Context, from uint32) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.SearchSinceUID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)
	span.LogKV("from", from)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, 0) // open range: from:*
	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqSet

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid search failed")
	}
	return uids, nil
}

func (s *session) SearchSinceDate(ctx context.Context, since time.Time) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.SearchSinceDate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "date search failed")
	}
	return uids, nil
}

// RecentUIDs resolves the UIDs of the newest limit messages by sequence
// number. Used when a date search returns nothing but the mailbox still
// has mail.
func (s *session) RecentUIDs(ctx context.Context, limit int) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.RecentUIDs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mbox, err := s.c.Select(s.account.Folder, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to select %s", s.account.Folder)
	}
	if mbox.Messages == 0 || limit <= 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- s.c.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uids []uint32
	for msg := range messages {
		uids = append(uids, msg.Uid)
	}
	if err := <-fetchDone; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid resolution fetch failed")
	}
	return uids, nil
}

func (s *session) FetchSources(ctx context.Context, uids []uint32) ([]interfaces.RawMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.FetchSources")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)
	span.LogKV("uids", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, fetchBodyPeek}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- s.c.UidFetch(seqSet, items, messages)
	}()

	var result []interfaces.RawMessage
	for msg := range messages {
		source, ok := extractFullSource(msg)
		if !ok {
			s.log.Warnf("message uid %d for account %s came back without a body section", msg.Uid, s.account.ID)
			continue
		}
		result = append(result, interfaces.RawMessage{
			UID:    msg.Uid,
			Source: source,
			Seen:   hasSeenFlag(msg.Flags),
		})
	}
	if err := <-fetchDone; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid fetch failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// extractFullSource pulls the entire raw message out of a fetch
// response. Servers key the body section without the PEEK marker, so
// match on the entire-message specifier with an empty part path.
func extractFullSource(msg *imap.Message) ([]byte, bool) {
	for section, literal := range msg.Body {
		if len(section.Path) == 0 && section.Specifier == imap.EntireSpecifier && literal != nil {
			body, err := io.ReadAll(literal)
			if err != nil {
				return nil, false
			}
			return body, true
		}
	}
	return nil, false
}

func hasSeenFlag(flags []string) bool {
	for _, flag := range flags {
		if flag == imap.SeenFlag {
			return true
		}
	}
	return false
}

// Idle enters the server-push listening mode. It returns nil when the
// stop channel or the context ends it, and the transport error when the
// connection drops underneath it.
func (s *session) Idle(ctx context.Context, stop <-chan struct{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.Idle")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	stopIdle := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() {
		stopOnce.Do(func() { close(stopIdle) })
	}
	defer closeStop()

	idleDone := make(chan struct{})
	defer close(idleDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		case <-s.done:
		case <-idleDone:
		}
		closeStop()
	}()

	err := s.c.Idle(stopIdle, &client.IdleOptions{
		LogoutTimeout: idleLogoutTimeout,
		PollInterval:  idlePollInterval,
	})
	if err != nil && ctx.Err() == nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "idle failed")
	}
	return nil
}

func (s *session) Logout() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.c.Logout()
}

// IsConnectionError reports whether the error looks like a dropped or
// unusable connection rather than a protocol-level refusal.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection closed",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"EOF",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
