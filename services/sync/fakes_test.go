package sync

import (
	"context"
	"sync"
	"time"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
)

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error", Encoder: "console"})
	l.InitLogger()
	return l
}

func testAccount() *models.Account {
	return &models.Account{
		ID:           "acct_test",
		EmailAddress: "user@example.com",
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		ImapUsername: "user@example.com",
		ImapTLS:      true,
		Folder:       "INBOX",
		Enabled:      true,
	}
}

func rawMessage(uid uint32, subject, date string) interfaces.RawMessage {
	source := "From: Sender <sender@example.com>\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date + "\r\n" +
		"Message-Id: <" + subject + "@example.com>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body of " + subject + "\r\n"
	return interfaces.RawMessage{UID: uid, Source: []byte(source)}
}

// fakeSession is a scriptable in-memory mailbox session.
type fakeSession struct {
	mu sync.Mutex

	state    interfaces.MailboxState
	messages map[uint32]interfaces.RawMessage

	stateErr        error
	searchErr       error
	fetchErr        error
	idleErr         error
	dateSearchEmpty bool

	notifications chan struct{}
	idleEnds      chan error
	mailbox       sync.Mutex

	loggedOut     bool
	searchedSince []time.Time
	searchedFrom  []uint32
	recentLimits  []int
	fetchedUIDs   [][]uint32
	idleStarted   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		messages:      map[uint32]interfaces.RawMessage{},
		notifications: make(chan struct{}, 1),
		idleEnds:      make(chan error, 1),
		idleStarted:   make(chan struct{}, 16),
	}
}

func (f *fakeSession) addMessage(raw interfaces.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[raw.UID] = raw
	f.state.Messages = uint32(len(f.messages))
	if raw.UID >= f.state.NextUID {
		f.state.NextUID = raw.UID + 1
	}
}

func (f *fakeSession) notify() {
	select {
	case f.notifications <- struct{}{}:
	default:
	}
}

func (f *fakeSession) State(ctx context.Context) (*interfaces.MailboxState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	state := f.state
	return &state, nil
}

func (f *fakeSession) sortedUIDs() []uint32 {
	var uids []uint32
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	for i := 0; i < len(uids); i++ {
		for j := i + 1; j < len(uids); j++ {
			if uids[j] < uids[i] {
				uids[i], uids[j] = uids[j], uids[i]
			}
		}
	}
	return uids
}

func (f *fakeSession) SearchSinceUID(ctx context.Context, from uint32) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchedFrom = append(f.searchedFrom, from)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var uids []uint32
	for _, uid := range f.sortedUIDs() {
		if uid >= from {
			uids = append(uids, uid)
		}
	}
	// Real servers answer an open range with at least the newest
	// message even when nothing matches.
	if len(uids) == 0 && len(f.messages) > 0 {
		all := f.sortedUIDs()
		uids = append(uids, all[len(all)-1])
	}
	return uids, nil
}

func (f *fakeSession) SearchSinceDate(ctx context.Context, since time.Time) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchedSince = append(f.searchedSince, since)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.dateSearchEmpty {
		return nil, nil
	}
	return f.sortedUIDs(), nil
}

func (f *fakeSession) RecentUIDs(ctx context.Context, limit int) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentLimits = append(f.recentLimits, limit)
	uids := f.sortedUIDs()
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	return uids, nil
}

func (f *fakeSession) FetchSources(ctx context.Context, uids []uint32) ([]interfaces.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchedUIDs = append(f.fetchedUIDs, uids)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var result []interfaces.RawMessage
	for _, uid := range uids {
		if raw, ok := f.messages[uid]; ok {
			result = append(result, raw)
		}
	}
	return result, nil
}

func (f *fakeSession) Idle(ctx context.Context, stop <-chan struct{}) error {
	f.idleStarted <- struct{}{}
	select {
	case <-ctx.Done():
		return nil
	case <-stop:
		return nil
	case err := <-f.idleEnds:
		return err
	}
}

func (f *fakeSession) Notifications() <-chan struct{} { return f.notifications }
func (f *fakeSession) AcquireMailbox()                { f.mailbox.Lock() }
func (f *fakeSession) ReleaseMailbox()                { f.mailbox.Unlock() }

func (f *fakeSession) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeSession) isLoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// fakeDialer hands out scripted sessions, failing the first failures
// attempts.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	handed   []*fakeSession
	failures int
	dials    int
	dialErr  error
}

func (d *fakeDialer) Dial(ctx context.Context, account *models.Account) (interfaces.MailSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		return nil, context.DeadlineExceeded
	}
	if len(d.sessions) == 0 {
		return nil, context.DeadlineExceeded
	}
	session := d.sessions[0]
	if len(d.sessions) > 1 {
		d.sessions = d.sessions[1:]
	}
	d.handed = append(d.handed, session)
	return session, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) handedSessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.handed...)
}

// fakeIndex records every upserted document keyed by id.
type fakeIndex struct {
	mu        sync.Mutex
	docs      map[string]*models.EmailRecord
	upserts   int
	failIDs   map[string]bool
	bulkErr   error
	ensureErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		docs:    map[string]*models.EmailRecord{},
		failIDs: map[string]bool{},
	}
}

func (f *fakeIndex) EnsureIndex(ctx context.Context) error { return f.ensureErr }

func (f *fakeIndex) setBulkErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkErr = err
}

func (f *fakeIndex) BulkUpsert(ctx context.Context, records []*models.EmailRecord) (*interfaces.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	result := &interfaces.BulkResult{Failed: map[string]string{}}
	for _, record := range records {
		if f.failIDs[record.ID] {
			result.Failed[record.ID] = "rejected"
			continue
		}
		f.docs[record.ID] = record
		result.Indexed++
	}
	return result, nil
}

func (f *fakeIndex) Search(ctx context.Context, query, accountID string, limit int) ([]*models.EmailRecord, error) {
	return nil, nil
}

func (f *fakeIndex) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

func (f *fakeIndex) docCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeIndex) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// fakeAccounts records sync status updates.
type fakeAccounts struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) GetAll(ctx context.Context) ([]*models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) GetEnabled(ctx context.Context) ([]*models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) Save(ctx context.Context, account *models.Account) error { return nil }

func (f *fakeAccounts) UpdateSyncStatus(ctx context.Context, id, status, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id string) error { return nil }
