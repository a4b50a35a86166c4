package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/auth-session/internal/domain"
)

// AllEvents subscribes a handler to every event type.
const AllEvents domain.AuthEventType = ""

// Event is an auth state change published by the identity provider.
type Event struct {
	ID        string               `json:"id"`
	Type      domain.AuthEventType `json:"type"`
	Session   *domain.Session      `json:"session,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType domain.AuthEventType, session *domain.Session) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Session:   session,
		Timestamp: time.Now().UTC(),
	}
}

// AuthEvent strips the envelope.
func (e Event) AuthEvent() domain.AuthEvent {
	return domain.AuthEvent{Type: e.Type, Session: e.Session}
}
