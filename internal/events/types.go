// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Ledger change notifications
	TokenIssued    EventType = "token.issued"
	TokenSold      EventType = "token.sold"
	TokenDelivered EventType = "token.delivered"
	TokenWithdrawn EventType = "token.withdrawn"

	// Synchronizer events
	MarketRefreshed     EventType = "market.refreshed"
	MarketRefreshFailed EventType = "market.refresh_failed"

	// Write lifecycle events
	WriteSubmitted EventType = "write.submitted"
	WriteSettled   EventType = "write.settled"
	WriteFailed    EventType = "write.failed"

	// Session events
	SessionStateChanged EventType = "session.state_changed"
	AccountChanged      EventType = "account.changed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// NewBase stamps a BaseEvent with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NotificationEvent relays a ledger change notification. Only the fact that
// something changed is meaningful; payload fields are informational.
type NotificationEvent struct {
	BaseEvent
	TokenID      uint64
	Issuer       string
	Counterparty string
	BlockRef     uint64
}

// RefreshedEvent is emitted after the synchronizer swapped in a new view.
type RefreshedEvent struct {
	BaseEvent
	Version   uint64
	MyTokens  int
	Available int
	Duration  time.Duration
}

// RefreshFailedEvent is emitted when a refresh failed and the previous view was kept.
type RefreshFailedEvent struct {
	BaseEvent
	Version uint64
	Error   error
}

// WriteEvent tracks a ledger write through pending, settled and failed.
type WriteEvent struct {
	BaseEvent
	WriteID   string
	Kind      string
	Account   string
	TokenID   string
	Hash      string
	Transient bool
	Error     error
}

// SessionStateEvent is emitted on every session lifecycle transition.
type SessionStateEvent struct {
	BaseEvent
	SessionID string
	From      string
	To        string
}

// AccountChangedEvent relays an account or network change from the provider.
type AccountChangedEvent struct {
	BaseEvent
	Address string
	Network string
}
