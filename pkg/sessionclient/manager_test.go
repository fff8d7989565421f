package sessionclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingNotifier records everything published through it so tests can
// assert that invalidation never rebroadcasts.
type countingNotifier struct {
	Notifier

	mu        sync.Mutex
	published []Signal
}

func (c *countingNotifier) Publish(ctx context.Context, sig Signal) error {
	c.mu.Lock()
	c.published = append(c.published, sig)
	c.mu.Unlock()
	return c.Notifier.Publish(ctx, sig)
}

func (c *countingNotifier) publishedBy(tabID string) []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Signal
	for _, sig := range c.published {
		if sig.TabID == tabID {
			out = append(out, sig)
		}
	}
	return out
}

func newTestManager(t *testing.T, n Notifier, tabID string) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(context.Background(), ManagerConfig{TabID: tabID, Notifier: n})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitInvalidation(t *testing.T, m *SessionManager) Invalidation {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invalidation event")
		return Invalidation{}
	}
}

func assertNoInvalidation(t *testing.T, m *SessionManager) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected invalidation event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLoginActivatesTab(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-1")

	require.NoError(t, m.StoreSession(context.Background(), "access", "refresh", User{ID: "u1"}))
	assert.Equal(t, StateActive, m.State())
	assert.True(t, m.HasSession())
	assert.Equal(t, "access", m.Token())
}

func TestSelfMessageSuppression(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-1")

	// The memory hub loops every publish back to its emitter; the manager
	// must ignore signals carrying its own tab id.
	require.NoError(t, m.StoreSession(context.Background(), "access", "refresh", User{ID: "u1"}))

	assertNoInvalidation(t, m)
	assert.Equal(t, StateActive, m.State())
	assert.True(t, m.HasSession())
}

func TestSameUserLoginInvalidatesSibling(t *testing.T) {
	hub := &countingNotifier{Notifier: NewMemoryNotifier()}
	t.Cleanup(func() { _ = hub.Close() })
	tabA := newTestManager(t, hub, "tab-a")
	tabB := newTestManager(t, hub, "tab-b")

	require.NoError(t, tabA.StoreSession(context.Background(), "a-access", "a-refresh", User{ID: "u1"}))
	require.NoError(t, tabB.StoreSession(context.Background(), "b-access", "b-refresh", User{ID: "u1"}))

	ev := waitInvalidation(t, tabA)
	assert.Equal(t, ReasonLoggedInElsewhere, ev.Reason)
	assert.Equal(t, StateIdle, tabA.State())
	assert.False(t, tabA.HasSession())

	// The winner is untouched.
	assert.Equal(t, StateActive, tabB.State())
	assert.Equal(t, "b-access", tabB.Token())

	// Loop-freedom: tab A cleared without emitting anything beyond its own
	// original login signal.
	assert.Len(t, hub.publishedBy("tab-a"), 1)
}

// A sibling's broadcast published before this tab's own login must not clear
// it: in a near-simultaneous login race the later login wins, and the earlier
// tab's announcement is already superseded when it arrives.
func TestStaleBroadcastDoesNotClearNewerLogin(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-b")

	ctx := context.Background()
	require.NoError(t, m.StoreSession(ctx, "b-access", "b-refresh", User{ID: "u1"}))

	stale := time.Now().UTC().Add(-time.Second)
	require.NoError(t, hub.Publish(ctx, Signal{
		Type: SignalSessionCreated, UserID: "u1", TabID: "tab-a", Timestamp: stale,
	}))
	require.NoError(t, hub.Publish(ctx, Signal{
		Type: SignalLogout, UserID: "u1", TabID: "tab-a", Timestamp: stale,
	}))

	assertNoInvalidation(t, m)
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, "b-access", m.Token())

	// A broadcast from after the login still applies.
	require.NoError(t, hub.Publish(ctx, Signal{
		Type: SignalLogout, UserID: "u1", TabID: "tab-a", Timestamp: time.Now().UTC(),
	}))
	ev := waitInvalidation(t, m)
	assert.Equal(t, ReasonLoggedOutElsewhere, ev.Reason)
}

func TestDifferentUsersDoNotCrossInvalidate(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	tabA := newTestManager(t, hub, "tab-a")
	tabB := newTestManager(t, hub, "tab-b")

	require.NoError(t, tabA.StoreSession(context.Background(), "a-access", "a-refresh", User{ID: "alice"}))
	require.NoError(t, tabB.StoreSession(context.Background(), "b-access", "b-refresh", User{ID: "bob"}))

	assertNoInvalidation(t, tabA)
	assert.Equal(t, StateActive, tabA.State())
	assert.Equal(t, StateActive, tabB.State())
}

func TestLogoutClearsSiblings(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	tabA := newTestManager(t, hub, "tab-a")
	tabB := newTestManager(t, hub, "tab-b")

	ctx := context.Background()
	require.NoError(t, tabA.StoreSession(ctx, "a-access", "a-refresh", User{ID: "u1"}))
	// Sibling joins the same account without announcing (e.g. restored tab).
	tabB.store.StoreSession("b-access", "b-refresh", User{ID: "u1"})
	tabB.mu.Lock()
	tabB.state = StateActive
	tabB.userID = "u1"
	tabB.activeAt = time.Now().UTC()
	tabB.mu.Unlock()

	require.NoError(t, tabA.Logout(ctx))

	ev := waitInvalidation(t, tabB)
	assert.Equal(t, ReasonLoggedOutElsewhere, ev.Reason)
	assert.False(t, tabB.HasSession())
	assert.Equal(t, StateIdle, tabA.State())
	assert.False(t, tabA.HasSession())
}

func TestLogoutIdempotentNoDuplicateBroadcast(t *testing.T) {
	hub := &countingNotifier{Notifier: NewMemoryNotifier()}
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-1")

	ctx := context.Background()
	require.NoError(t, m.StoreSession(ctx, "access", "refresh", User{ID: "u1"}))
	require.NoError(t, m.Logout(ctx))
	require.NoError(t, m.Logout(ctx))

	var logouts int
	for _, sig := range hub.publishedBy("tab-1") {
		if sig.Type == SignalLogout {
			logouts++
		}
	}
	assert.Equal(t, 1, logouts, "second logout must not rebroadcast")
}

func TestDuplicateDeliverySurfacesOneEvent(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-a")

	ctx := context.Background()
	require.NoError(t, m.StoreSession(ctx, "access", "refresh", User{ID: "u1"}))

	// The same logical event arriving over both channels collapses into one
	// clear and one surfaced invalidation.
	sig := Signal{Type: SignalSessionCreated, UserID: "u1", TabID: "tab-b", Timestamp: time.Now()}
	require.NoError(t, hub.Publish(ctx, sig))
	require.NoError(t, hub.Publish(ctx, sig))

	ev := waitInvalidation(t, m)
	assert.Equal(t, ReasonLoggedInElsewhere, ev.Reason)
	assertNoInvalidation(t, m)
}

func TestIdleTabIgnoresBroadcasts(t *testing.T) {
	hub := NewMemoryNotifier()
	t.Cleanup(func() { _ = hub.Close() })
	m := newTestManager(t, hub, "tab-a")

	require.NoError(t, hub.Publish(context.Background(), Signal{
		Type: SignalLogout, TabID: "tab-b", Timestamp: time.Now(),
	}))

	assertNoInvalidation(t, m)
	assert.Equal(t, StateIdle, m.State())
}
