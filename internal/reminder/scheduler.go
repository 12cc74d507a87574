package reminder

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
	"github.com/yuchilin/plannerd/internal/store"
)

// Config holds scheduler tunables.
type Config struct {
	// LocalWindow is the horizon within which reminders are armed as
	// in-process timers; anything further out goes to the background
	// channel.
	LocalWindow time.Duration

	// PreScheduleDelay is the short pause before a recurring reminder
	// creates its next occurrence row, avoiding self-collision with the
	// write that created the current one.
	PreScheduleDelay time.Duration

	// FireMissed fires a "missed" notification for reminders whose
	// time passed while the process was down, instead of dropping them
	// silently.
	FireMissed bool
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() *Config {
	return &Config{
		LocalWindow:      30 * time.Minute,
		PreScheduleDelay: 2 * time.Second,
		FireMissed:       false,
	}
}

// Options describes a reminder to schedule.
type Options struct {
	ID             string
	Title          string
	Body           string
	TriggerTime    time.Time
	Type           models.ReminderType
	EntityID       string
	RepeatInterval int // minutes, 0 = one-shot
	MaxSnoozes     int
	snoozeCount    int
}

// Scheduler owns reminder persistence, timer arming and notification
// dispatch. In-process timers are lost on restart and reconstituted by
// Restore.
type Scheduler struct {
	store    *store.Store
	notifier Notifier
	channel  BackgroundChannel
	config   *Config
	clock    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a Scheduler.
func NewScheduler(st *store.Store, notifier Notifier, channel BackgroundChannel, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		store:    st,
		notifier: notifier,
		channel:  channel,
		config:   config,
		clock:    time.Now,
		timers:   make(map[string]*time.Timer),
	}
}

// SetClock overrides the scheduler clock, for tests.
func (s *Scheduler) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Schedule persists and arms a reminder. The row is written before any
// timer is armed, so a crash between the two loses the timer, not the
// reminder. Recurring reminders pre-create the next occurrence row
// after a short fixed delay; each occurrence creates its successor when
// it fires.
func (s *Scheduler) Schedule(opts Options) error {
	if err := s.ensurePermission(); err != nil {
		return err
	}
	if err := validate(opts); err != nil {
		return err
	}

	rem := models.Reminder{
		ID:             opts.ID,
		Title:          opts.Title,
		Body:           opts.Body,
		TriggerTime:    opts.TriggerTime.UnixMilli(),
		Type:           opts.Type,
		EntityID:       opts.EntityID,
		RepeatInterval: opts.RepeatInterval,
		SnoozeCount:    opts.snoozeCount,
		MaxSnoozes:     opts.MaxSnoozes,
		IsActive:       true,
		CreatedAt:      s.clock().UnixMilli(),
	}

	if err := s.store.Put(store.CollectionReminders, rem.ID, &rem); err != nil {
		return err
	}

	s.arm(rem)

	if rem.Repeats() && opts.snoozeCount == 0 {
		time.AfterFunc(s.config.PreScheduleDelay, func() {
			s.scheduleNext(rem)
		})
	}

	return nil
}

// scheduleNext persists and arms the occurrence following rem. Both
// Schedule (pre-creation) and fire call this for the same derived id;
// the existence check keeps the second caller from re-arming a row the
// first already handed to a timer or the background channel.
func (s *Scheduler) scheduleNext(rem models.Reminder) {
	next := rem
	next.TriggerTime += int64(rem.RepeatInterval) * 60_000
	next.ID = occurrenceID(rem.ID, next.TriggerTime)

	var existing models.Reminder
	if found, err := s.store.Get(store.CollectionReminders, next.ID, &existing); err == nil && found {
		return
	}

	if err := s.store.Put(store.CollectionReminders, next.ID, &next); err != nil {
		logging.Error("scheduling next occurrence failed", err,
			map[string]interface{}{"reminder_id": next.ID})
		return
	}
	s.arm(next)
}

// occurrenceID derives the suffixed id convention for recurrence rows.
func occurrenceID(baseID string, triggerMillis int64) string {
	return fmt.Sprintf("%s-%d", baseID, triggerMillis)
}

// arm buckets a reminder by how far out it fires: past-due fires
// synchronously, near-term gets an in-process timer, long-horizon goes
// to the background channel.
func (s *Scheduler) arm(rem models.Reminder) {
	delay := time.Duration(rem.TriggerTime-s.clock().UnixMilli()) * time.Millisecond

	switch {
	case delay <= 0:
		s.fire(rem.ID)

	case delay <= s.config.LocalWindow:
		s.mu.Lock()
		if timer, ok := s.timers[rem.ID]; ok {
			timer.Stop()
		}
		s.timers[rem.ID] = time.AfterFunc(delay, func() {
			s.mu.Lock()
			delete(s.timers, rem.ID)
			s.mu.Unlock()
			s.fire(rem.ID)
		})
		s.mu.Unlock()

	default:
		payload, _ := json.Marshal(rem)
		if err := s.channel.Send(Message{Type: MsgScheduleNotification, Payload: payload}); err != nil {
			logging.Error("background schedule handoff failed", err,
				map[string]interface{}{"reminder_id": rem.ID})
		}
	}
}

// fire shows the notification for an active reminder and, for
// recurring rows, creates the next occurrence. The row stays active
// until acknowledged or cancelled.
func (s *Scheduler) fire(id string) {
	var rem models.Reminder
	found, err := s.store.Get(store.CollectionReminders, id, &rem)
	if err != nil || !found || !rem.IsActive {
		return
	}

	if err := s.notifier.Show(Notification{
		ID:      rem.ID,
		Title:   rem.Title,
		Body:    rem.Body,
		Type:    rem.Type,
		Actions: actionsFor(rem.Type),
		Sound:   true,
	}); err != nil {
		logging.Error("showing notification failed", err,
			map[string]interface{}{"reminder_id": rem.ID})
	}

	if rem.Repeats() {
		s.scheduleNext(rem)
	}
}

// Cancel clears any in-process timer, asks the background channel to
// drop its copy and deactivates the persisted row. Cancelling an
// already-inactive or unknown reminder is a no-op.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"id": id})
	if err := s.channel.Send(Message{Type: MsgCancelNotification, Payload: payload}); err != nil {
		logging.Debug("background cancel handoff failed",
			map[string]interface{}{"reminder_id": id, "error": err.Error()})
	}

	var rem models.Reminder
	found, err := s.store.Get(store.CollectionReminders, id, &rem)
	if err != nil {
		return err
	}
	if !found || !rem.IsActive {
		return nil
	}

	rem.IsActive = false
	return s.store.Put(store.CollectionReminders, id, &rem)
}

// Snooze deactivates a fired reminder and creates a fresh row at
// now + d with the snooze count bumped. Past the cap the reminder is
// deactivated without re-firing.
func (s *Scheduler) Snooze(id string, d time.Duration) error {
	var rem models.Reminder
	found, err := s.store.Get(store.CollectionReminders, id, &rem)
	if err != nil {
		return err
	}
	if !found || !rem.IsActive {
		return nil
	}

	if err := s.Cancel(id); err != nil {
		return err
	}

	if !rem.CanSnooze() {
		logging.Info("snooze cap reached, reminder deactivated",
			map[string]interface{}{"reminder_id": id, "snoozes": rem.SnoozeCount})
		return nil
	}

	return s.Schedule(Options{
		ID:          fmt.Sprintf("%s-snooze-%d", id, rem.SnoozeCount+1),
		Title:       rem.Title,
		Body:        rem.Body,
		TriggerTime: s.clock().Add(d),
		Type:        rem.Type,
		EntityID:    rem.EntityID,
		MaxSnoozes:  rem.MaxSnoozes,
		snoozeCount: rem.SnoozeCount + 1,
	})
}

// Complete acknowledges a fired reminder, deactivating it.
func (s *Scheduler) Complete(id string) error {
	return s.Cancel(id)
}

// Restore reconstitutes in-process timers after a restart: active rows
// still in the future are re-armed; rows whose time passed are
// deactivated, optionally firing a missed notification first.
func (s *Scheduler) Restore() error {
	records, err := s.store.GetByIndex(store.CollectionReminders, "isActive", true)
	if err != nil {
		return err
	}

	now := s.clock().UnixMilli()
	rearmed, dropped := 0, 0

	for _, record := range records {
		var rem models.Reminder
		if err := json.Unmarshal(record, &rem); err != nil {
			logging.Error("reminder row is malformed, skipping", err, nil)
			continue
		}

		if rem.TriggerTime > now {
			s.arm(rem)
			rearmed++
			continue
		}

		if s.config.FireMissed {
			if err := s.notifier.Show(Notification{
				ID:      rem.ID,
				Title:   "Missed: " + rem.Title,
				Body:    rem.Body,
				Type:    rem.Type,
				Actions: []Action{ActionDismiss},
			}); err != nil {
				logging.Error("showing missed notification failed", err,
					map[string]interface{}{"reminder_id": rem.ID})
			}
		}

		rem.IsActive = false
		if err := s.store.Put(store.CollectionReminders, rem.ID, &rem); err != nil {
			logging.Error("deactivating past-due reminder failed", err,
				map[string]interface{}{"reminder_id": rem.ID})
		}
		dropped++
	}

	logging.Info("reminder restore completed",
		map[string]interface{}{"rearmed": rearmed, "dropped": dropped})
	return nil
}

// actionMessage is the inbound shape for notification-click and
// notification-action messages.
type actionMessage struct {
	ID            string `json:"id"`
	Action        Action `json:"action"`
	SnoozeMinutes int    `json:"snoozeMinutes"`
}

// HandleAction routes a user response on a fired notification.
func (s *Scheduler) HandleAction(data json.RawMessage) error {
	var msg actionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "malformed notification action", err)
	}

	switch msg.Action {
	case ActionComplete:
		return s.Complete(msg.ID)
	case ActionSnooze:
		minutes := msg.SnoozeMinutes
		if minutes <= 0 {
			minutes = 5
		}
		return s.Snooze(msg.ID, time.Duration(minutes)*time.Minute)
	case ActionDismiss:
		return s.Cancel(msg.ID)
	default:
		return apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("unknown notification action %q", msg.Action))
	}
}

// HasLocalTimer reports whether an in-process timer is armed for id.
func (s *Scheduler) HasLocalTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// ensurePermission resolves notification permission, prompting when
// undetermined.
func (s *Scheduler) ensurePermission() error {
	switch s.notifier.Permission() {
	case PermissionGranted:
		return nil
	case PermissionDenied:
		return apperrors.New(apperrors.ErrPermission, "notifications are denied")
	}

	perm, err := s.notifier.RequestPermission()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPermission, "permission request failed", err)
	}
	if perm != PermissionGranted {
		return apperrors.New(apperrors.ErrPermission, "notifications are denied")
	}
	return nil
}

func validate(opts Options) error {
	if opts.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "reminder id is required")
	}
	if opts.Title == "" {
		return apperrors.New(apperrors.ErrValidation, "reminder title is required")
	}
	if opts.TriggerTime.IsZero() {
		return apperrors.New(apperrors.ErrValidation, "reminder trigger time is required")
	}
	return nil
}
