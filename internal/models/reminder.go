package models

import "time"

// ReminderType classifies what a reminder fires for.
type ReminderType string

const (
	ReminderTypeTask     ReminderType = "task"
	ReminderTypeSchedule ReminderType = "schedule"
	ReminderTypeCustom   ReminderType = "custom"
)

// Reminder is a persisted notification trigger. Rows are deactivated
// rather than deleted when fired or cancelled; recurring reminders
// spawn a fresh row for the next occurrence.
type Reminder struct {
	ID             string       `db:"id" json:"id"`
	Title          string       `db:"title" json:"title"`
	Body           string       `db:"body" json:"body"`
	TriggerTime    int64        `db:"trigger_time" json:"triggerTime"` // ms since epoch
	Type           ReminderType `db:"type" json:"type"`
	EntityID       string       `db:"entity_id" json:"entityId"`
	RepeatInterval int          `db:"repeat_interval" json:"repeatInterval"` // minutes, 0 = one-shot
	SnoozeCount    int          `db:"snooze_count" json:"snoozeCount"`
	MaxSnoozes     int          `db:"max_snoozes" json:"maxSnoozes"`
	IsActive       bool         `db:"is_active" json:"isActive"`
	CreatedAt      int64        `db:"created_at" json:"createdAt"`
}

// TriggerTimeAsTime returns TriggerTime as time.Time.
func (r *Reminder) TriggerTimeAsTime() time.Time {
	return time.UnixMilli(r.TriggerTime)
}

// Repeats reports whether this reminder recurs.
func (r *Reminder) Repeats() bool {
	return r.RepeatInterval > 0
}

// CanSnooze reports whether another snooze is allowed under the cap.
func (r *Reminder) CanSnooze() bool {
	return r.SnoozeCount < r.MaxSnoozes
}
