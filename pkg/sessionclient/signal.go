package sessionclient

import "time"

// SignalType enumerates the cross-tab messages a client emits.
type SignalType string

const (
	SignalSessionCreated     SignalType = "session-created"
	SignalSessionInvalidated SignalType = "session-invalidated"
	SignalLogout             SignalType = "logout"
)

// Signal is the transient cross-tab message. It is never persisted beyond the
// fallback notifier's shared key and carries no ordering guarantee beyond
// emission order.
type Signal struct {
	Type      SignalType `json:"type"`
	UserID    string     `json:"userId"`
	TabID     string     `json:"tabId"`
	Timestamp time.Time  `json:"timestamp"`
}

// Reason explains a surfaced invalidation to the UI shell.
type Reason string

const (
	ReasonExpired            Reason = "expired"
	ReasonLoggedInElsewhere  Reason = "logged-in-elsewhere"
	ReasonLoggedOutElsewhere Reason = "logged-out-elsewhere"
	ReasonRevokedElsewhere   Reason = "revoked-elsewhere"
)

// Invalidation is the application-level event the shell subscribes to in
// order to route the user back to re-authentication.
type Invalidation struct {
	Reason Reason
	At     time.Time
}
