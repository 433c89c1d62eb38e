package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/services/classifier"
)

func newTestEngine(index *fakeIndex) (*Engine, *classifier.Handle) {
	handle := classifier.NewHandle()
	engine := NewEngine(
		EngineConfig{InitialWindowDays: 30, InitialMaxMessages: 100},
		repository.NewInMemoryCursorRepository(),
		index,
		noopSanitizer{},
		handle,
		testLogger(),
	)
	return engine, handle
}

type noopSanitizer struct{}

func (noopSanitizer) Sanitize(html string) string { return html }

func dateHeader(t time.Time) string { return t.Format(time.RFC1123Z) }

func TestPerformSync_InitialBackfillCapped(t *testing.T) {
	session := newFakeSession()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 150; i++ {
		session.addMessage(rawMessage(uint32(i), fmt.Sprintf("msg-%03d", i), dateHeader(base.Add(time.Duration(i)*time.Minute))))
	}
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, _ := newTestEngine(index)

	result, err := engine.PerformSync(context.Background(), testAccount(), session)
	require.NoError(t, err)
	require.Equal(t, 100, result.Fetched)
	require.Equal(t, 100, result.Indexed)
	require.Equal(t, uint32(150), result.Cursor.LastUID)
	require.Equal(t, uint32(7), result.Cursor.UIDValidity)
	require.Equal(t, 100, index.docCount())

	// the oldest 50 messages stay outside the backfill window cap
	require.Equal(t, []uint32{51, 52, 53}, session.fetchedUIDs[0][:3])
}

func TestPerformSync_InitialFallbackToRecentUIDs(t *testing.T) {
	session := newFakeSession()
	session.dateSearchEmpty = true
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 120; i++ {
		session.addMessage(rawMessage(uint32(i), fmt.Sprintf("archived-%03d", i), dateHeader(base.Add(time.Duration(i)*time.Hour))))
	}
	session.state.UIDValidity = 3

	index := newFakeIndex()
	engine, _ := newTestEngine(index)

	result, err := engine.PerformSync(context.Background(), testAccount(), session)
	require.NoError(t, err)
	require.Len(t, session.searchedSince, 1)
	require.Equal(t, []int{100}, session.recentLimits)
	require.Equal(t, 100, result.Fetched)
	require.Equal(t, uint32(120), result.Cursor.LastUID)
	require.Equal(t, []uint32{21, 22, 23}, session.fetchedUIDs[0][:3])
}

func TestPerformSync_NoNewMailIsNoOp(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(13, "hello", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, _ := newTestEngine(index)
	account := testAccount()

	_, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, 1, index.upsertCount())

	// second pass: the open-range search echoes uid 13 back, but the
	// engine must recognize there is nothing new
	result, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, 0, result.Fetched)
	require.Equal(t, uint32(13), result.Cursor.LastUID)
	require.Equal(t, 1, index.upsertCount(), "empty pass must not call the index")
}

func TestPerformSync_IncrementalAdvancesCursor(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(10, "old", dateHeader(time.Now().Add(-time.Hour))))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, _ := newTestEngine(index)
	account := testAccount()

	_, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)

	for _, uid := range []uint32{11, 12, 13} {
		session.addMessage(rawMessage(uid, fmt.Sprintf("new-%d", uid), dateHeader(time.Now())))
	}

	result, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, 3, result.Fetched)
	require.Equal(t, 3, result.Indexed)
	require.Equal(t, uint32(13), result.Cursor.LastUID)
	require.Equal(t, []uint32{11, 12, 13}, session.fetchedUIDs[1])
	require.Equal(t, 2, index.upsertCount(), "one bulk call per pass")
	// next incremental search starts right above the cursor
	require.Equal(t, []uint32{11}, session.searchedFrom)
}

func TestPerformSync_UIDValidityChangeResetsCursor(t *testing.T) {
	session := newFakeSession()
	for i := 1; i <= 5; i++ {
		session.addMessage(rawMessage(uint32(i), fmt.Sprintf("m-%d", i), dateHeader(time.Now())))
	}
	session.state.UIDValidity = 1

	index := newFakeIndex()
	engine, _ := newTestEngine(index)
	account := testAccount()

	_, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)

	// server renumbered the mailbox
	session.mu.Lock()
	session.state.UIDValidity = 2
	session.mu.Unlock()

	result, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, uint32(2), result.Cursor.UIDValidity)
	require.Equal(t, uint32(5), result.Cursor.LastUID)
	// the reset pass goes through the bounded backfill, not uid search
	require.Len(t, session.searchedSince, 2)
	// re-indexing the same logical messages must not duplicate them
	require.Equal(t, 5, index.docCount())
}

func TestPerformSync_PartialIndexFailureHoldsCursor(t *testing.T) {
	session := newFakeSession()
	date := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	session.addMessage(rawMessage(11, "ok-one", dateHeader(date)))
	session.addMessage(rawMessage(12, "poison", dateHeader(date)))
	session.addMessage(rawMessage(13, "ok-two", dateHeader(date)))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	index.failIDs[models.EmailRecordID("poison", date, "user@example.com")] = true
	engine, _ := newTestEngine(index)

	result, err := engine.PerformSync(context.Background(), testAccount(), session)
	require.NoError(t, err)
	require.Equal(t, 2, result.Indexed)
	// uid 12 failed to index, so the cursor may not move past 11 even
	// though 13 was written
	require.Equal(t, uint32(11), result.Cursor.LastUID)
}

func TestPerformSync_BulkErrorLeavesCursorUntouched(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(5, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, _ := newTestEngine(index)
	account := testAccount()

	_, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)

	session.addMessage(rawMessage(6, "second", dateHeader(time.Now())))
	index.bulkErr = errors.New("index unavailable")

	_, err = engine.PerformSync(context.Background(), account, session)
	require.Error(t, err)

	cursor, err := engine.cursors.GetCursor(context.Background(), account.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(5), cursor.LastUID)

	// after the index recovers, the same pass picks uid 6 back up
	index.bulkErr = nil
	result, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, uint32(6), result.Cursor.LastUID)
}

func TestPerformSync_ClassifierLabels(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "please unsubscribe me", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, handle := newTestEngine(index)
	handle.SetReady(classifier.NewKeywordClassifier())

	_, err := engine.PerformSync(context.Background(), testAccount(), session)
	require.NoError(t, err)

	for _, doc := range index.docs {
		require.Equal(t, classifier.LabelNotInterested, doc.Label)
	}
}

func TestPerformSync_ClassifierNotReadyDefaultsLabel(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "anything", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	index := newFakeIndex()
	engine, _ := newTestEngine(index)

	_, err := engine.PerformSync(context.Background(), testAccount(), session)
	require.NoError(t, err)

	for _, doc := range index.docs {
		require.Equal(t, "Unclassified", doc.Label)
	}
}

func TestPerformSync_EmptyMailboxRecordsValidity(t *testing.T) {
	session := newFakeSession()
	session.state.UIDValidity = 9

	index := newFakeIndex()
	engine, _ := newTestEngine(index)
	account := testAccount()

	result, err := engine.PerformSync(context.Background(), account, session)
	require.NoError(t, err)
	require.Equal(t, 0, result.Fetched)
	require.Equal(t, uint32(0), result.Cursor.LastUID)
	require.Equal(t, uint32(9), result.Cursor.UIDValidity)
	require.Equal(t, 0, index.upsertCount())
}
