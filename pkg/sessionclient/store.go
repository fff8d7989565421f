package sessionclient

import (
	"sync"
	"time"
)

// User is the client-side snapshot of the authenticated account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

const defaultClearGrace = 500 * time.Millisecond

// Store holds one tab's tokens and user snapshot. All access is
// mutex-guarded; the invalidated flag plus a short grace window makes Clear
// idempotent even when the same logical invalidation arrives over both
// notifier channels.
type Store struct {
	mu sync.Mutex

	access  string
	refresh string
	user    *User

	invalidated   bool
	invalidatedAt time.Time
	grace         time.Duration

	nowF func() time.Time
}

func NewStore() *Store {
	return &Store{
		grace: defaultClearGrace,
		nowF:  time.Now,
	}
}

// StoreSession replaces the held tokens and resets the invalidated flag, so a
// fresh login after an invalidation behaves like a first login.
func (s *Store) StoreSession(access, refresh string, user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	u := user
	s.user = &u
	s.invalidated = false
	s.invalidatedAt = time.Time{}
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

func (s *Store) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// HasSession reports token presence only. Expiry and signature are the
// guard's concern, not the store's.
func (s *Store) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access != ""
}

// Clear wipes the held session. It returns true only on the first effective
// clear; repeat calls within the grace window are no-ops, so a clear provoked
// by an incoming broadcast cannot trigger a second broadcast in the same turn.
func (s *Store) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowF()
	if s.invalidated && now.Sub(s.invalidatedAt) < s.grace {
		return false
	}
	had := s.access != "" || s.refresh != "" || s.user != nil
	s.access = ""
	s.refresh = ""
	s.user = nil
	s.invalidated = true
	s.invalidatedAt = now
	return had
}
