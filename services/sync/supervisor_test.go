package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		ConnectFailureDelay: 10 * time.Millisecond,
		ClosedDelay:         5 * time.Millisecond,
		SessionErrorDelay:   10 * time.Millisecond,
		Debounce:            10 * time.Millisecond,
		IdleRenewal:         time.Hour,
		JitterFraction:      0,
	}
}

func startSupervisor(t *testing.T, dialer *fakeDialer, index *fakeIndex) (*supervisor, *fakeAccounts, context.CancelFunc) {
	t.Helper()
	return startSupervisorWithPolicy(t, dialer, index, fastPolicy())
}

func startSupervisorWithPolicy(t *testing.T, dialer *fakeDialer, index *fakeIndex, policy RetryPolicy) (*supervisor, *fakeAccounts, context.CancelFunc) {
	t.Helper()
	engine, _ := newTestEngine(index)
	accounts := &fakeAccounts{}
	sup := newSupervisor(testAccount(), engine, dialer, accounts, policy, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go sup.run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-sup.done:
		case <-time.After(5 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	})
	return sup, accounts, cancel
}

func TestSupervisor_InitialPassThenIdle(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	sup, _, _ := startSupervisor(t, dialer, index)

	require.Eventually(t, func() bool {
		return index.docCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return sup.Status().State == StateIdling
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint32(1), sup.Status().LastUID)
	require.Equal(t, 1, dialer.dialCount(), "a healthy session must not be redialed")
}

func TestSupervisor_ReconnectsAfterDialFailure(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}, failures: 2}
	index := newFakeIndex()
	sup, accounts, _ := startSupervisor(t, dialer, index)

	require.Eventually(t, func() bool {
		return index.docCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 3, dialer.dialCount())
	require.Empty(t, sup.Status().LastError, "error must clear after a successful pass")

	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	require.Contains(t, accounts.statuses, syncStatusError)
	require.Contains(t, accounts.statuses, syncStatusConnected)
}

func TestSupervisor_NotificationTriggersPass(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	startSupervisor(t, dialer, index)

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never entered idle")
	}

	session.addMessage(rawMessage(2, "second", dateHeader(time.Now())))
	session.notify()

	require.Eventually(t, func() bool {
		return index.docCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, dialer.dialCount())
}

func TestSupervisor_NotificationBurstCoalesces(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	startSupervisor(t, dialer, index)

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never entered idle")
	}
	require.Eventually(t, func() bool {
		return index.upsertCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	for _, uid := range []uint32{2, 3, 4} {
		session.addMessage(rawMessage(uid, fmt.Sprintf("burst-%d", uid), dateHeader(time.Now())))
		session.notify()
	}

	require.Eventually(t, func() bool {
		return index.docCount() == 4
	}, 5*time.Second, 10*time.Millisecond)
	// debounce folds the burst into one additional pass
	require.LessOrEqual(t, index.upsertCount(), 3)
}

func TestSupervisor_RefreshTriggersPass(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	sup, _, _ := startSupervisor(t, dialer, index)

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never entered idle")
	}

	session.addMessage(rawMessage(2, "second", dateHeader(time.Now())))
	sup.Refresh()

	require.Eventually(t, func() bool {
		return index.docCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisor_IndexOutageKeepsSessionAlive(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	index.setBulkErr(errors.New("index unavailable"))
	sup, _, _ := startSupervisor(t, dialer, index)

	// the failed pass must leave the session connected and idling
	require.Eventually(t, func() bool {
		return sup.Status().State == StateIdling
	}, 5*time.Second, 10*time.Millisecond)
	require.Contains(t, sup.Status().LastError, "index unavailable")
	require.Equal(t, 1, dialer.dialCount(), "an index outage must not tear down the IMAP session")
	require.False(t, session.isLoggedOut())

	// once the index recovers, the next trigger picks the mail up on
	// the same session
	index.setBulkErr(nil)
	sup.Refresh()
	require.Eventually(t, func() bool {
		return index.docCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, dialer.dialCount())
	require.Empty(t, sup.Status().LastError)
}

func TestSupervisor_IdleRenewalReusesSession(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	policy := fastPolicy()
	policy.IdleRenewal = 30 * time.Millisecond
	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	startSupervisorWithPolicy(t, dialer, index, policy)

	for i := 0; i < 3; i++ {
		select {
		case <-session.idleStarted:
		case <-time.After(5 * time.Second):
			t.Fatalf("idle was not renewed (restart %d)", i)
		}
	}
	require.Equal(t, 1, dialer.dialCount(), "renewal must reuse the session")
	require.Equal(t, 1, index.upsertCount(), "renewal must not trigger a pass")
	require.False(t, session.isLoggedOut())
}

func TestSupervisor_IdleEndingOnItsOwnRestartsIdle(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	startSupervisor(t, dialer, index)

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never entered idle")
	}

	// servers may end IDLE without an error; the supervisor re-enters
	// it on the same session
	session.idleEnds <- nil

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("idle was not restarted")
	}
	require.Equal(t, 1, dialer.dialCount())
	require.Equal(t, 1, index.upsertCount())
	require.False(t, session.isLoggedOut())
}

func TestSupervisor_StopLogsOut(t *testing.T) {
	session := newFakeSession()
	session.addMessage(rawMessage(1, "first", dateHeader(time.Now())))
	session.state.UIDValidity = 7

	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	index := newFakeIndex()
	sup, _, cancel := startSupervisor(t, dialer, index)

	select {
	case <-session.idleStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never entered idle")
	}

	cancel()
	select {
	case <-sup.done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	require.True(t, session.loggedOut)
	require.Equal(t, StateStopped, sup.Status().State)
}
