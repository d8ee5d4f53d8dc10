package notifier

import (
	"time"

	"github.com/google/uuid"
)

// AnonymousUser marks jobs submitted without an owner. Events carrying it as
// recipient are broadcast instead of targeted.
const AnonymousUser = "anonymous"

// Type is the severity of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// EventGeneric is the catch-all event name. Every routed notification is
// emitted under it in addition to its specific event name, so subscribers can
// listen narrowly or broadly.
const EventGeneric = "notification"

// Notification is a single message bound for one user or for everyone.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Event     string    `json:"event"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Targeted reports whether the notification is addressed to a specific user.
// Anonymous and empty recipients fall back to broadcast delivery.
func (n Notification) Targeted() bool {
	return n.UserID != "" && n.UserID != AnonymousUser
}

// New creates a notification with a fresh id and timestamp.
func New(typ Type, event, userID, title, message string, data any) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Event:     event,
		Title:     title,
		Message:   message,
		UserID:    userID,
		Data:      data,
		CreatedAt: time.Now(),
	}
}
