package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuchilin/plannerd/internal/events"
	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
	"github.com/yuchilin/plannerd/internal/preload"
	"github.com/yuchilin/plannerd/internal/reminder"
	"github.com/yuchilin/plannerd/internal/remote"
	"github.com/yuchilin/plannerd/internal/store"
	"github.com/yuchilin/plannerd/internal/sync"
)

var serveUser string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plannerd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveUser, "user", "local", "user id the daemon serves")
	rootCmd.AddCommand(serveCmd)
}

// daemon holds the wired components for one serve run.
type daemon struct {
	store     *store.Store
	bus       *events.Bus
	engine    *sync.Engine
	scheduler *reminder.Scheduler
	hub       *WSHub
	userID    string
}

func newDaemon() (*daemon, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var docs remote.DocumentStore
	if cfg.Remote.Endpoint != "" {
		docs = remote.NewHTTPStore(&remote.Config{
			Endpoint: cfg.Remote.Endpoint,
			Token:    cfg.Remote.Token,
		})
	} else {
		// No remote configured: run against an in-memory document
		// store so the daemon still works fully offline.
		logging.Warn("no remote endpoint configured, sync is local-only")
		docs = remote.NewMemoryStore()
	}

	d := &daemon{
		store:  st,
		bus:    events.NewBus(),
		userID: serveUser,
	}
	d.engine = sync.NewEngine(st, docs, d.bus, &sync.Config{
		AutoSaveDelay: cfg.Sync.AutoSaveDelay,
		RetryBase:     cfg.Sync.RetryBase,
		RetryCap:      cfg.Sync.RetryCap,
		MaxAttempts:   cfg.Sync.MaxAttempts,
	})
	d.hub = NewWSHub(d.handleInbound)
	d.scheduler = reminder.NewScheduler(st, d.hub, d.hub, &reminder.Config{
		LocalWindow:      cfg.Reminder.LocalWindow,
		PreScheduleDelay: cfg.Reminder.PreScheduleDelay,
		FireMissed:       cfg.Reminder.FireMissed,
	})

	// Relay collection updates to connected UI clients.
	for _, collection := range sync.SyncedCollections() {
		d.bus.Subscribe(events.UpdatedTopic(collection), func(ev events.Event) {
			d.hub.Broadcast(EventDataUpdated, ev)
		})
	}

	return d, nil
}

func runServe(ctx context.Context) error {
	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.store.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.scheduler.Restore(); err != nil {
		logging.Error("restoring reminders failed", err, nil)
	}

	if err := d.engine.WatchUser(ctx, d.userID); err != nil {
		logging.Error("subscribing to remote changes failed", err,
			map[string]interface{}{"user_id": d.userID})
	}
	defer d.engine.UnwatchUser(d.userID)

	preloader := preload.New(d.engine, d.userID)
	go preloader.Run(ctx)

	go d.retryLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"plannerd","version":"` + Version + `"}`))
	})
	mux.Handle("/ws", HandleWebSocket(d.hub))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("plannerd listening", map[string]interface{}{
			"addr": cfg.Server.ListenAddr, "user_id": d.userID,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// retryLoop periodically replays due pending sync items while online.
func (d *daemon) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.engine.Online() {
				continue
			}
			replayed, err := d.engine.SyncPendingChanges(ctx)
			if err != nil {
				logging.Warn("pending replay pass incomplete", map[string]interface{}{
					"replayed": replayed, "error": err.Error(),
				})
			}
		}
	}
}

// Inbound payload shapes.
type savePayload struct {
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	Immediate  bool            `json:"immediate"`
}

type networkPayload struct {
	Online bool `json:"online"`
}

type taskReminderPayload struct {
	Task models.Task `json:"task"`
}

type eventReminderPayload struct {
	Event         models.EventItem `json:"event"`
	RepeatMinutes int              `json:"repeatMinutes"`
}

type cancelReminderPayload struct {
	ID string `json:"id"`
}

// handleInbound routes client messages to the engine and scheduler.
func (d *daemon) handleInbound(msg inboundMessage) {
	ctx := context.Background()

	var err error
	switch msg.Action {
	case "save":
		var p savePayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			if p.Immediate {
				err = d.engine.SaveData(ctx, p.Collection, d.userID, p.Data)
			} else {
				d.engine.AutoSave(p.Collection, d.userID, p.Data, cfg.Sync.AutoSaveDelay)
			}
		}

	case "network_status":
		var p networkPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			d.engine.SetOnline(ctx, p.Online)
			d.hub.Broadcast(EventSyncStatus, map[string]interface{}{"online": p.Online})
		}

	case "notification_action":
		err = d.scheduler.HandleAction(msg.Data)

	case "schedule_task_reminder":
		var p taskReminderPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			if p.Task.ReminderMinutes == 0 {
				p.Task.ReminderMinutes = int(cfg.Reminder.DefaultLead / time.Minute)
			}
			err = d.scheduler.ScheduleTaskReminder(p.Task)
		}

	case "cancel_task_reminder":
		var p cancelReminderPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = d.scheduler.CancelTaskReminder(p.ID)
		}

	case "schedule_event_reminder":
		var p eventReminderPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			if p.RepeatMinutes > 0 {
				err = d.scheduler.ScheduleRecurringEventReminder(p.Event, p.RepeatMinutes)
			} else {
				err = d.scheduler.ScheduleEventReminder(p.Event)
			}
		}

	case "cancel_event_reminder":
		var p cancelReminderPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = d.scheduler.CancelEventReminder(p.ID)
		}

	case "resync":
		err = d.engine.Resync(ctx, d.userID)

	case "logout":
		d.engine.UnwatchUser(d.userID)
		err = d.engine.ClearUserData(ctx, d.userID)

	default:
		logging.Debug("unknown ws action", map[string]interface{}{"action": msg.Action})
		return
	}

	if err != nil {
		logging.Error("handling ws message failed", err,
			map[string]interface{}{"action": msg.Action})
	}
}
