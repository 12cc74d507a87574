package reminder

import (
	"fmt"
	"time"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	defaultMaxSnoozes = 3
)

// TaskReminderID returns the deterministic reminder id for a task, so
// rescheduling and cancelling always address the same row.
func TaskReminderID(taskID string) string {
	return "task-reminder-" + taskID
}

// EventReminderID returns the deterministic reminder id for an event.
func EventReminderID(eventID string) string {
	return "event-reminder-" + eventID
}

// ScheduleTaskReminder arms a reminder at the task's due time minus its
// lead. Tasks without a due date cannot carry reminders. A missing due
// time anchors the reminder to the start of the due date.
func (s *Scheduler) ScheduleTaskReminder(task models.Task) error {
	if task.DueDate == "" {
		return apperrors.New(apperrors.ErrValidation, "task has no due date")
	}

	due, err := parseLocal(task.DueDate, task.DueTime)
	if err != nil {
		return err
	}

	trigger := due.Add(-time.Duration(task.ReminderMinutes) * time.Minute)
	return s.Schedule(Options{
		ID:          TaskReminderID(task.ID),
		Title:       task.Title,
		Body:        fmt.Sprintf("Due %s", task.DueDate),
		TriggerTime: trigger,
		Type:        models.ReminderTypeTask,
		EntityID:    task.ID,
		MaxSnoozes:  defaultMaxSnoozes,
	})
}

// CancelTaskReminder drops the reminder for a task, if any.
func (s *Scheduler) CancelTaskReminder(taskID string) error {
	return s.Cancel(TaskReminderID(taskID))
}

// ScheduleEventReminder arms a reminder ahead of an event's start.
// Events need both a date and a start time.
func (s *Scheduler) ScheduleEventReminder(event models.EventItem) error {
	if event.Date == "" || event.StartTime == "" {
		return apperrors.New(apperrors.ErrValidation, "event has no date or start time")
	}

	start, err := parseLocal(event.Date, event.StartTime)
	if err != nil {
		return err
	}

	trigger := start.Add(-time.Duration(event.ReminderMinutes) * time.Minute)
	return s.Schedule(Options{
		ID:          EventReminderID(event.ID),
		Title:       event.Title,
		Body:        fmt.Sprintf("Starts at %s", event.StartTime),
		TriggerTime: trigger,
		Type:        models.ReminderTypeSchedule,
		EntityID:    event.ID,
		MaxSnoozes:  defaultMaxSnoozes,
	})
}

// CancelEventReminder drops the reminder for an event, if any.
func (s *Scheduler) CancelEventReminder(eventID string) error {
	return s.Cancel(EventReminderID(eventID))
}

// ScheduleRecurringEventReminder arms a repeating reminder for an
// event, re-firing every repeatMinutes.
func (s *Scheduler) ScheduleRecurringEventReminder(event models.EventItem, repeatMinutes int) error {
	if repeatMinutes <= 0 {
		return apperrors.New(apperrors.ErrValidation, "repeat interval must be positive")
	}
	if event.Date == "" || event.StartTime == "" {
		return apperrors.New(apperrors.ErrValidation, "event has no date or start time")
	}

	start, err := parseLocal(event.Date, event.StartTime)
	if err != nil {
		return err
	}

	trigger := start.Add(-time.Duration(event.ReminderMinutes) * time.Minute)
	return s.Schedule(Options{
		ID:             EventReminderID(event.ID),
		Title:          event.Title,
		Body:           fmt.Sprintf("Starts at %s", event.StartTime),
		TriggerTime:    trigger,
		Type:           models.ReminderTypeSchedule,
		EntityID:       event.ID,
		RepeatInterval: repeatMinutes,
		MaxSnoozes:     defaultMaxSnoozes,
	})
}

// parseLocal combines a date and optional time of day in local time.
func parseLocal(date, clock string) (time.Time, error) {
	layout, value := dateLayout, date
	if clock != "" {
		layout, value = dateLayout+" "+timeLayout, date+" "+clock
	}
	t, err := time.ParseInLocation(layout, value, time.Local)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrValidation, "malformed date or time", err)
	}
	return t, nil
}
