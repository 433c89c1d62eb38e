package sync

import (
	"context"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
	"github.com/oneinbox/mailsync/services/classifier"
)

type EngineConfig struct {
	// InitialWindowDays bounds the first backfill of a mailbox to mail
	// received in this many days.
	InitialWindowDays int `env:"SYNC_INITIAL_WINDOW_DAYS" envDefault:"30"`
	// InitialMaxMessages caps how many messages an initial backfill may
	// index, keeping the newest ones.
	InitialMaxMessages int `env:"SYNC_INITIAL_MAX_MESSAGES" envDefault:"100"`
}

// PassResult summarizes one sync pass.
type PassResult struct {
	Fetched int
	Skipped int
	Indexed int
	Cursor  *models.SyncCursor
}

// Engine runs individual sync passes against an already open session.
// It owns the cursor rules; connection lifecycle belongs to the
// supervisor.
type Engine struct {
	config     EngineConfig
	cursors    interfaces.CursorRepository
	index      interfaces.IndexWriter
	sanitizer  interfaces.Sanitizer
	classifier *classifier.Handle
	log        logger.Logger
}

func NewEngine(
	config EngineConfig,
	cursors interfaces.CursorRepository,
	index interfaces.IndexWriter,
	sanitizer interfaces.Sanitizer,
	classifierHandle *classifier.Handle,
	log logger.Logger,
) *Engine {
	return &Engine{
		config:     config,
		cursors:    cursors,
		index:      index,
		sanitizer:  sanitizer,
		classifier: classifierHandle,
		log:        log,
	}
}

// PerformSync runs one pass: read mailbox state, detect UIDVALIDITY
// changes, pick the UID set to fetch, index it, and advance the cursor.
// A failed pass returns with the cursor untouched; the next pass
// re-covers the same ground because upserts are idempotent.
func (e *Engine) PerformSync(ctx context.Context, account *models.Account, session interfaces.MailSession) (*PassResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.PerformSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	session.AcquireMailbox()
	defer session.ReleaseMailbox()

	state, err := session.State(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to read mailbox state")
	}

	cursor, err := e.cursors.GetCursor(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to load cursor")
	}
	if cursor == nil {
		cursor = &models.SyncCursor{AccountID: account.ID}
	}

	if cursor.UIDValidity != 0 && cursor.UIDValidity != state.UIDValidity {
		e.log.Warnf("account %s uidvalidity changed %d -> %d, resetting cursor", account.ID, cursor.UIDValidity, state.UIDValidity)
		span.LogKV("uidvalidity_reset", true)
		cursor.LastUID = 0
	}

	uids, err := e.selectUIDs(ctx, session, state, cursor.LastUID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("uids", len(uids))

	result := &PassResult{Cursor: cursor}
	if len(uids) == 0 {
		cursor.UIDValidity = state.UIDValidity
		cursor.LastSync = time.Now().UTC()
		if err := e.cursors.SaveCursor(ctx, cursor); err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to save cursor")
		}
		return result, nil
	}

	raws, err := session.FetchSources(ctx, uids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to fetch messages")
	}
	result.Fetched = len(raws)

	sort.Slice(raws, func(i, j int) bool { return raws[i].UID < raws[j].UID })

	records := make([]*models.EmailRecord, 0, len(raws))
	recordByUID := make(map[uint32]*models.EmailRecord, len(raws))
	for _, raw := range raws {
		record, err := buildRecord(raw, account, e.sanitizer)
		if err != nil {
			e.log.Warnf("account %s skipping unparseable message uid %d: %v", account.ID, raw.UID, err)
			result.Skipped++
			continue
		}
		record.Label = e.classifier.Classify(ctx, record)
		records = append(records, record)
		recordByUID[raw.UID] = record
	}

	bulk, err := e.index.BulkUpsert(ctx, records)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to index records")
	}
	result.Indexed = bulk.Indexed

	// Advance the cursor only through UIDs whose records are confirmed
	// written. An index failure stops the advance so the next pass
	// retries from there; an unparseable message never indexes, so it
	// does not hold the cursor back.
	lastConfirmed := cursor.LastUID
	for _, raw := range raws {
		if record, parsed := recordByUID[raw.UID]; parsed && bulk.FailedID(record.ID) {
			e.log.Warnf("account %s index rejected uid %d: %s", account.ID, raw.UID, bulk.Failed[record.ID])
			break
		}
		if raw.UID > lastConfirmed {
			lastConfirmed = raw.UID
		}
	}

	cursor.LastUID = lastConfirmed
	cursor.UIDValidity = state.UIDValidity
	cursor.LastSync = time.Now().UTC()
	if err := e.cursors.SaveCursor(ctx, cursor); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to save cursor")
	}

	e.log.Infof("account %s pass done: fetched=%d indexed=%d skipped=%d last_uid=%d", account.ID, result.Fetched, result.Indexed, result.Skipped, cursor.LastUID)
	return result, nil
}

// selectUIDs picks the message set for this pass. With a cursor it is
// everything past the cursor; without one it is a bounded backfill of
// recent mail, falling back to the newest messages by sequence when the
// date search finds nothing.
func (e *Engine) selectUIDs(ctx context.Context, session interfaces.MailSession, state *interfaces.MailboxState, lastUID uint32) ([]uint32, error) {
	if lastUID > 0 {
		uids, err := session.SearchSinceUID(ctx, lastUID+1)
		if err != nil {
			return nil, errors.Wrap(err, "incremental search failed")
		}
		// Servers answer an open range with at least the last message
		// even when nothing is newer.
		fresh := uids[:0]
		for _, uid := range uids {
			if uid > lastUID {
				fresh = append(fresh, uid)
			}
		}
		return fresh, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -e.config.InitialWindowDays)
	uids, err := session.SearchSinceDate(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "initial date search failed")
	}
	if len(uids) == 0 && state.Messages > 0 {
		uids, err = session.RecentUIDs(ctx, e.config.InitialMaxMessages)
		if err != nil {
			return nil, errors.Wrap(err, "recent uid fallback failed")
		}
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if max := e.config.InitialMaxMessages; max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}
	return uids, nil
}
