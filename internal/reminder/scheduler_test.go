package reminder

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/models"
	"github.com/yuchilin/plannerd/internal/store"
)

type fakeNotifier struct {
	mu    sync.Mutex
	perm  Permission
	shown []Notification
}

func (f *fakeNotifier) Permission() Permission {
	return f.perm
}

func (f *fakeNotifier) RequestPermission() (Permission, error) {
	if f.perm == PermissionDefault {
		f.perm = PermissionGranted
	}
	return f.perm, nil
}

func (f *fakeNotifier) Show(n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

func (f *fakeNotifier) last() Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shown[len(f.shown)-1]
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *fakeChannel) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) schedulesFor(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type != MsgScheduleNotification {
			continue
		}
		var rem models.Reminder
		if json.Unmarshal(m.Payload, &rem) == nil && rem.ID == id {
			n++
		}
	}
	return n
}

func (c *fakeChannel) ofType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeNotifier, *fakeChannel, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	notifier := &fakeNotifier{perm: PermissionGranted}
	channel := &fakeChannel{}
	config := DefaultConfig()
	config.PreScheduleDelay = time.Millisecond
	return NewScheduler(st, notifier, channel, config), notifier, channel, st
}

func getReminder(t *testing.T, st *store.Store, id string) (models.Reminder, bool) {
	t.Helper()
	var rem models.Reminder
	found, err := st.Get(store.CollectionReminders, id, &rem)
	if err != nil {
		t.Fatalf("loading reminder %s: %v", id, err)
	}
	return rem, found
}

func TestSchedulePastDueFiresImmediately(t *testing.T) {
	s, notifier, channel, _ := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Overdue",
		TriggerTime: time.Now().Add(-time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if notifier.count() != 1 {
		t.Errorf("expected 1 notification, got %d", notifier.count())
	}
	if s.HasLocalTimer("r1") {
		t.Error("past-due reminder should not arm a timer")
	}
	if n := channel.ofType(MsgScheduleNotification); n != 0 {
		t.Errorf("past-due reminder should not go to the channel, got %d messages", n)
	}
}

func TestScheduleNearTermArmsLocalTimer(t *testing.T) {
	s, notifier, channel, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Soon",
		TriggerTime: time.Now().Add(10 * time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if !s.HasLocalTimer("r1") {
		t.Error("near-term reminder should arm a local timer")
	}
	if n := channel.ofType(MsgScheduleNotification); n != 0 {
		t.Errorf("near-term reminder should not go to the channel, got %d messages", n)
	}
	if notifier.count() != 0 {
		t.Errorf("nothing should fire yet, got %d notifications", notifier.count())
	}

	rem, found := getReminder(t, st, "r1")
	if !found || !rem.IsActive {
		t.Error("reminder row should be persisted and active before any timer fires")
	}
}

func TestScheduleLongHorizonGoesToChannel(t *testing.T) {
	s, _, channel, _ := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Later",
		TriggerTime: time.Now().Add(40 * time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if s.HasLocalTimer("r1") {
		t.Error("long-horizon reminder should not hold a local timer")
	}
	if n := channel.ofType(MsgScheduleNotification); n != 1 {
		t.Errorf("expected 1 channel schedule message, got %d", n)
	}
}

func TestLocalTimerFires(t *testing.T) {
	s, notifier, _, _ := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Quick",
		TriggerTime: time.Now().Add(20 * time.Millisecond),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected the timer to fire once, got %d", notifier.count())
	}

	n := notifier.last()
	if n.ID != "r1" || n.Title != "Quick" {
		t.Errorf("unexpected notification %+v", n)
	}
	if len(n.Actions) != 2 || n.Actions[0] != ActionComplete || n.Actions[1] != ActionSnooze {
		t.Errorf("task notifications should offer complete and snooze, got %v", n.Actions)
	}
}

func TestScheduleDeniedPermission(t *testing.T) {
	s, notifier, _, st := newTestScheduler(t)
	notifier.perm = PermissionDenied

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Blocked",
		TriggerTime: time.Now().Add(time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if !apperrors.Is(err, apperrors.ErrPermission) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	if _, found := getReminder(t, st, "r1"); found {
		t.Error("denied reminder should not be persisted")
	}
}

func TestSchedulePromptsWhenUndetermined(t *testing.T) {
	s, notifier, _, _ := newTestScheduler(t)
	notifier.perm = PermissionDefault

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Prompted",
		TriggerTime: time.Now().Add(time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule after granted prompt: %v", err)
	}
	if notifier.perm != PermissionGranted {
		t.Error("permission should have been requested")
	}
}

func TestScheduleValidation(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	err := s.Schedule(Options{ID: "r1", TriggerTime: time.Now().Add(time.Minute)})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("missing title should be VALIDATION_ERROR, got %v", err)
	}

	err = s.Schedule(Options{ID: "r1", Title: "No time"})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("missing trigger time should be VALIDATION_ERROR, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s, _, channel, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Cancelled",
		TriggerTime: time.Now().Add(10 * time.Minute),
		Type:        models.ReminderTypeTask,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.Cancel("r1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := s.Cancel("r1"); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}
	if err := s.Cancel("never-existed"); err != nil {
		t.Fatalf("cancelling an unknown id should be a no-op, got %v", err)
	}

	if s.HasLocalTimer("r1") {
		t.Error("cancel should clear the local timer")
	}
	rem, found := getReminder(t, st, "r1")
	if !found || rem.IsActive {
		t.Error("cancelled reminder should be persisted inactive")
	}
	if n := channel.ofType(MsgCancelNotification); n < 1 {
		t.Error("cancel should notify the background channel")
	}
}

func TestSnoozeCreatesFreshRow(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Nap",
		TriggerTime: time.Now().Add(-time.Second),
		Type:        models.ReminderTypeTask,
		MaxSnoozes:  3,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.Snooze("r1", 5*time.Minute); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	original, _ := getReminder(t, st, "r1")
	if original.IsActive {
		t.Error("snoozed reminder should deactivate the original row")
	}

	snoozed, found := getReminder(t, st, "r1-snooze-1")
	if !found {
		t.Fatal("snooze should create a fresh row")
	}
	if !snoozed.IsActive || snoozed.SnoozeCount != 1 || snoozed.MaxSnoozes != 3 {
		t.Errorf("unexpected snoozed row %+v", snoozed)
	}
	if !s.HasLocalTimer("r1-snooze-1") {
		t.Error("snoozed reminder within the window should arm a local timer")
	}
}

func TestSnoozeCapDeactivatesWithoutRefire(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Capped",
		TriggerTime: time.Now().Add(-time.Second),
		Type:        models.ReminderTypeTask,
		MaxSnoozes:  1,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.Snooze("r1", time.Minute); err != nil {
		t.Fatalf("first snooze: %v", err)
	}
	if err := s.Snooze("r1-snooze-1", time.Minute); err != nil {
		t.Fatalf("snooze at cap: %v", err)
	}

	rem, _ := getReminder(t, st, "r1-snooze-1")
	if rem.IsActive {
		t.Error("reminder at the snooze cap should be deactivated")
	}
	if _, found := getReminder(t, st, "r1-snooze-1-snooze-2"); found {
		t.Error("no new row should be created past the snooze cap")
	}
}

func TestSnoozeInactiveIsNoOp(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Done",
		TriggerTime: time.Now().Add(10 * time.Minute),
		Type:        models.ReminderTypeTask,
		MaxSnoozes:  3,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Cancel("r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := s.Snooze("r1", time.Minute); err != nil {
		t.Fatalf("snoozing an inactive reminder should be a no-op, got %v", err)
	}
	if _, found := getReminder(t, st, "r1-snooze-1"); found {
		t.Error("inactive reminder should not spawn a snooze row")
	}
}

func TestRestoreRearmsFutureAndDropsPast(t *testing.T) {
	s, notifier, _, st := newTestScheduler(t)
	now := time.Now().UnixMilli()

	future := models.Reminder{
		ID: "future", Title: "Ahead", TriggerTime: now + int64(10*time.Minute/time.Millisecond),
		Type: models.ReminderTypeTask, IsActive: true, CreatedAt: now,
	}
	past := models.Reminder{
		ID: "past", Title: "Gone", TriggerTime: now - int64(time.Hour/time.Millisecond),
		Type: models.ReminderTypeTask, IsActive: true, CreatedAt: now,
	}
	inactive := models.Reminder{
		ID: "inactive", Title: "Old", TriggerTime: now + int64(time.Minute/time.Millisecond),
		Type: models.ReminderTypeTask, IsActive: false, CreatedAt: now,
	}
	for _, rem := range []models.Reminder{future, past, inactive} {
		if err := st.Put(store.CollectionReminders, rem.ID, &rem); err != nil {
			t.Fatalf("seeding %s: %v", rem.ID, err)
		}
	}

	if err := s.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if !s.HasLocalTimer("future") {
		t.Error("future reminder should be re-armed")
	}
	if s.HasLocalTimer("past") || s.HasLocalTimer("inactive") {
		t.Error("only active future reminders should be re-armed")
	}
	if notifier.count() != 0 {
		t.Errorf("missed reminders drop silently by default, got %d notifications", notifier.count())
	}

	rem, _ := getReminder(t, st, "past")
	if rem.IsActive {
		t.Error("past-due reminder should be deactivated during restore")
	}
}

func TestRestoreFiresMissedWhenEnabled(t *testing.T) {
	s, notifier, _, st := newTestScheduler(t)
	s.config.FireMissed = true
	now := time.Now().UnixMilli()

	past := models.Reminder{
		ID: "past", Title: "Gone", TriggerTime: now - int64(time.Hour/time.Millisecond),
		Type: models.ReminderTypeTask, IsActive: true, CreatedAt: now,
	}
	if err := st.Put(store.CollectionReminders, past.ID, &past); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	if err := s.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if notifier.count() != 1 {
		t.Fatalf("expected a missed notification, got %d", notifier.count())
	}
	if got := notifier.last().Title; got != "Missed: Gone" {
		t.Errorf("unexpected missed title %q", got)
	}

	rem, _ := getReminder(t, st, "past")
	if rem.IsActive {
		t.Error("missed reminder should still be deactivated")
	}
}

func TestRecurringCreatesNextOccurrence(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	base := time.Now().Add(5 * time.Minute)
	err := s.Schedule(Options{
		ID:             "r1",
		Title:          "Standup",
		TriggerTime:    base,
		Type:           models.ReminderTypeSchedule,
		RepeatInterval: 60,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	nextID := occurrenceID("r1", base.UnixMilli()+60*60_000)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, found := getReminder(t, st, nextID); found {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	next, found := getReminder(t, st, nextID)
	if !found {
		t.Fatal("recurring reminder should pre-create its next occurrence")
	}
	if !next.IsActive || next.RepeatInterval != 60 {
		t.Errorf("unexpected next occurrence %+v", next)
	}
}

// TestRecurringSuccessorHandedOffOnce verifies the next occurrence is
// not double-created when pre-creation and the firing overlap: the
// long-horizon successor must reach the background channel exactly
// once.
func TestRecurringSuccessorHandedOffOnce(t *testing.T) {
	s, notifier, channel, _ := newTestScheduler(t)

	base := time.Now().Add(30 * time.Millisecond)
	err := s.Schedule(Options{
		ID:             "r1",
		Title:          "Standup",
		TriggerTime:    base,
		Type:           models.ReminderTypeSchedule,
		RepeatInterval: 60,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.count() == 0 {
		t.Fatal("first occurrence never fired")
	}
	// Let the pre-creation timer run too before counting.
	time.Sleep(50 * time.Millisecond)

	nextID := occurrenceID("r1", base.UnixMilli()+60*60_000)
	if n := channel.schedulesFor(nextID); n != 1 {
		t.Errorf("successor handed to the channel %d times, want 1", n)
	}
}

func TestHandleAction(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	err := s.Schedule(Options{
		ID:          "r1",
		Title:       "Acted on",
		TriggerTime: time.Now().Add(-time.Second),
		Type:        models.ReminderTypeTask,
		MaxSnoozes:  3,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	msg, _ := json.Marshal(actionMessage{ID: "r1", Action: ActionSnooze, SnoozeMinutes: 10})
	if err := s.HandleAction(msg); err != nil {
		t.Fatalf("snooze action: %v", err)
	}
	if _, found := getReminder(t, st, "r1-snooze-1"); !found {
		t.Error("snooze action should create a snooze row")
	}

	msg, _ = json.Marshal(actionMessage{ID: "r1-snooze-1", Action: ActionComplete})
	if err := s.HandleAction(msg); err != nil {
		t.Fatalf("complete action: %v", err)
	}
	rem, _ := getReminder(t, st, "r1-snooze-1")
	if rem.IsActive {
		t.Error("complete action should deactivate the reminder")
	}

	if err := s.HandleAction(json.RawMessage(`{"id":"x","action":"explode"}`)); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("unknown action should be INVALID_INPUT, got %v", err)
	}
}

func TestTaskReminderLifecycle(t *testing.T) {
	s, _, _, st := newTestScheduler(t)

	due := time.Now().Add(20 * time.Minute)
	task := models.Task{
		ID:              "t1",
		Title:           "Ship it",
		DueDate:         due.Format(dateLayout),
		DueTime:         due.Format(timeLayout),
		HasReminder:     true,
		ReminderMinutes: 15,
	}
	if err := s.ScheduleTaskReminder(task); err != nil {
		t.Fatalf("schedule task reminder: %v", err)
	}

	rem, found := getReminder(t, st, TaskReminderID("t1"))
	if !found || !rem.IsActive {
		t.Fatal("task reminder row should be persisted and active")
	}
	if rem.Type != models.ReminderTypeTask || rem.EntityID != "t1" {
		t.Errorf("unexpected task reminder %+v", rem)
	}

	parsed, err := parseLocal(task.DueDate, task.DueTime)
	if err != nil {
		t.Fatalf("parsing due: %v", err)
	}
	want := parsed.Add(-15 * time.Minute).UnixMilli()
	if rem.TriggerTime != want {
		t.Errorf("trigger = %d, want due minus lead %d", rem.TriggerTime, want)
	}

	if err := s.CancelTaskReminder("t1"); err != nil {
		t.Fatalf("cancel task reminder: %v", err)
	}
	rem, _ = getReminder(t, st, TaskReminderID("t1"))
	if rem.IsActive {
		t.Error("completing a task should deactivate its reminder")
	}
}

func TestTaskReminderRequiresDueDate(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	err := s.ScheduleTaskReminder(models.Task{ID: "t1", Title: "No date", HasReminder: true})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("task without due date should be VALIDATION_ERROR, got %v", err)
	}
}

func TestEventReminderRequiresStartTime(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	err := s.ScheduleEventReminder(models.EventItem{
		ID: "e1", Title: "Vague", Date: "2026-09-01",
	})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("event without start time should be VALIDATION_ERROR, got %v", err)
	}
}
