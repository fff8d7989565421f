// Package sessionclient is the client half of the session lifecycle: a
// per-tab holder of the current token pair, a best-effort cross-tab
// broadcast so sibling tabs learn of new logins and logouts promptly, and a
// transport guard that turns token expiry and server 401s into a single
// surfaced invalidation event. The server remains authoritative throughout;
// everything here is a UX optimization layered on top of the server-side
// revocation check.
package sessionclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State of one tab's session machine.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

type ManagerConfig struct {
	// TabID identifies this browsing context in broadcasts. Generated when
	// empty.
	TabID    string
	Notifier Notifier
}

// SessionManager is one tab's session state machine. All formerly global
// mutable state (cached tokens, re-entrancy flags) lives on the instance, so
// tests construct as many isolated managers as they need.
type SessionManager struct {
	tabID    string
	store    *Store
	notifier Notifier

	mu       sync.Mutex
	state    State
	userID   string
	activeAt time.Time

	events chan Invalidation
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSessionManager(ctx context.Context, cfg ManagerConfig) (*SessionManager, error) {
	if cfg.Notifier == nil {
		return nil, errors.New("sessionclient: notifier is required")
	}
	tabID := cfg.TabID
	if tabID == "" {
		tabID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(ctx)
	signals, err := cfg.Notifier.Subscribe(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	m := &SessionManager{
		tabID:    tabID,
		store:    NewStore(),
		notifier: cfg.Notifier,
		state:    StateIdle,
		events:   make(chan Invalidation, 8),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(runCtx, signals)
	return m, nil
}

func (m *SessionManager) TabID() string { return m.tabID }

// Events delivers at most one Invalidation per effective clear. The shell
// subscribes to route the user to re-authentication with the carried reason.
func (m *SessionManager) Events() <-chan Invalidation { return m.events }

func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) Token() string        { return m.store.Token() }
func (m *SessionManager) RefreshToken() string { return m.store.RefreshToken() }
func (m *SessionManager) HasSession() bool     { return m.store.HasSession() }

func (m *SessionManager) CurrentUser() (User, bool) { return m.store.CurrentUser() }

// StoreSession records a successful login and announces it to sibling tabs.
// The login instant is kept so broadcasts emitted before it can be told apart
// from broadcasts that supersede it.
func (m *SessionManager) StoreSession(ctx context.Context, access, refresh string, user User) error {
	now := time.Now().UTC()
	m.store.StoreSession(access, refresh, user)

	m.mu.Lock()
	m.state = StateActive
	m.userID = user.ID
	m.activeAt = now
	m.mu.Unlock()

	return m.notifier.Publish(ctx, Signal{
		Type:      SignalSessionCreated,
		UserID:    user.ID,
		TabID:     m.tabID,
		Timestamp: now,
	})
}

// Logout clears the local session and tells sibling tabs to do the same.
// Clearing an already-cleared session is a no-op and publishes nothing.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	userID := m.userID
	m.state = StateIdle
	m.userID = ""
	m.mu.Unlock()

	if !m.store.Clear() {
		return nil
	}
	return m.notifier.Publish(ctx, Signal{
		Type:      SignalLogout,
		UserID:    userID,
		TabID:     m.tabID,
		Timestamp: time.Now().UTC(),
	})
}

// Close tears down the broadcast subscription. The local session, if any,
// stays put; Close is tab teardown, not logout.
func (m *SessionManager) Close() error {
	m.cancel()
	<-m.done
	return nil
}

func (m *SessionManager) run(ctx context.Context, signals <-chan Signal) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.handleSignal(sig)
		}
	}
}

// handleSignal applies one incoming broadcast. Invalidation clears locally
// and surfaces an event but never rebroadcasts, so two tabs cannot ping-pong
// signals at each other.
func (m *SessionManager) handleSignal(sig Signal) {
	if sig.TabID == m.tabID {
		return // own emission
	}

	m.mu.Lock()
	state, userID, activeAt := m.state, m.userID, m.activeAt
	m.mu.Unlock()
	if state != StateActive {
		return
	}
	// A broadcast emitted before this tab logged in describes a session this
	// login already superseded. When two tabs log in nearly simultaneously the
	// later login wins; applying the earlier tab's stale announcement here
	// would let the loser clear the winner.
	if sig.Timestamp.Before(activeAt) {
		return
	}

	switch sig.Type {
	case SignalSessionCreated:
		// Another tab logged in. Only the same account supersedes this one;
		// two tabs on different accounts must not cross-invalidate.
		if sig.UserID != userID {
			return
		}
		m.invalidate(ReasonLoggedInElsewhere)
	case SignalSessionInvalidated:
		if sig.UserID != userID {
			return
		}
		m.invalidate(ReasonRevokedElsewhere)
	case SignalLogout:
		m.invalidate(ReasonLoggedOutElsewhere)
	}
}

// invalidate clears the local session once and surfaces the reason. The
// store's grace window makes duplicate deliveries of the same logical event
// collapse into a single cleared state and a single surfaced event.
func (m *SessionManager) invalidate(reason Reason) {
	m.mu.Lock()
	m.state = StateIdle
	m.userID = ""
	m.mu.Unlock()

	if !m.store.Clear() {
		return
	}
	slog.Debug("session invalidated", "tab_id", m.tabID, "reason", string(reason))
	select {
	case m.events <- Invalidation{Reason: reason, At: time.Now().UTC()}:
	default:
		// Shell not draining; the cleared store is still the truth.
	}
}
