// Package reminder converts due-dated records into timed notification
// triggers, persisted so they survive restarts.
package reminder

import (
	"encoding/json"

	"github.com/yuchilin/plannerd/internal/models"
)

// Permission is the notification permission state reported by the
// platform notifier.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default" // undetermined, may be requested
)

// Action names a button attached to a fired notification.
type Action string

const (
	ActionComplete Action = "complete"
	ActionSnooze   Action = "snooze"
	ActionDismiss  Action = "dismiss"
)

// Notification is what the platform displays when a reminder fires.
type Notification struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Body    string              `json:"body"`
	Type    models.ReminderType `json:"type"`
	Actions []Action            `json:"actions"`
	Sound   bool                `json:"sound"`
}

// Notifier is the platform notification capability.
type Notifier interface {
	// Permission returns the current permission state.
	Permission() Permission

	// RequestPermission prompts when the state is undetermined and
	// returns the resulting state.
	RequestPermission() (Permission, error)

	// Show displays a notification.
	Show(n Notification) error
}

// Background channel message types.
const (
	MsgScheduleNotification = "SCHEDULE_NOTIFICATION"
	MsgCancelNotification   = "CANCEL_NOTIFICATION"
)

// Message is the envelope exchanged with the background-capable
// notification channel.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BackgroundChannel fires long-horizon reminders even when the
// foreground process is gone.
type BackgroundChannel interface {
	Send(msg Message) error
}

// actionsFor returns the type-specific notification buttons.
func actionsFor(t models.ReminderType) []Action {
	switch t {
	case models.ReminderTypeTask:
		return []Action{ActionComplete, ActionSnooze}
	case models.ReminderTypeSchedule:
		return []Action{ActionSnooze, ActionDismiss}
	default:
		return []Action{ActionDismiss}
	}
}
