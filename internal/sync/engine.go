// Package sync orchestrates reading and writing per-user sync documents
// between the local record store and the remote document store, hiding
// the local/remote split behind a single load/save surface.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yuchilin/plannerd/internal/events"
	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
	"github.com/yuchilin/plannerd/internal/remote"
	"github.com/yuchilin/plannerd/internal/store"
)

// syncedCollections is the fixed set of collections with one remote
// document per user.
var syncedCollections = []string{
	store.CollectionTasks,
	store.CollectionSchedules,
	store.CollectionNotes,
	store.CollectionUserProfiles,
}

// emptyPayloads are the collection-specific defaults returned when
// neither a local nor a remote copy exists.
var emptyPayloads = map[string]string{
	store.CollectionTasks:        `{"tasks":[]}`,
	store.CollectionSchedules:    `{"events":[]}`,
	store.CollectionNotes:        `{"notes":[]}`,
	store.CollectionUserProfiles: `{}`,
}

// SyncedCollections returns the collections the engine synchronizes.
func SyncedCollections() []string {
	out := make([]string, len(syncedCollections))
	copy(out, syncedCollections)
	return out
}

// EmptyPayload returns the default payload for a collection.
func EmptyPayload(collection string) json.RawMessage {
	if p, ok := emptyPayloads[collection]; ok {
		return json.RawMessage(p)
	}
	return json.RawMessage(`{}`)
}

// Config holds engine tunables. The retry policy applies to pending
// sync replay; MaxAttempts 0 retries without bound.
type Config struct {
	AutoSaveDelay time.Duration
	RetryBase     time.Duration
	RetryCap      time.Duration
	MaxAttempts   int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoSaveDelay: 2 * time.Second,
		RetryBase:     time.Minute,
		RetryCap:      time.Hour,
		MaxAttempts:   0,
	}
}

// Engine presents saveData/loadData/autoSave per (collection, user).
// All transient state (debounce timers, subscriptions, key locks) is
// scoped to the engine instance and torn down on ClearUserData.
type Engine struct {
	store  *store.Store
	remote remote.DocumentStore
	bus    *events.Bus
	config *Config
	clock  func() time.Time

	mu       sync.Mutex
	online   bool
	timers   map[string]*time.Timer
	subs     map[string]remote.CancelFunc
	keyLocks map[string]*sync.Mutex
}

// NewEngine creates an Engine. The engine starts online; callers flip
// connectivity with SetOnline.
func NewEngine(st *store.Store, docs remote.DocumentStore, bus *events.Bus, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		store:    st,
		remote:   docs,
		bus:      bus,
		config:   config,
		clock:    time.Now,
		online:   true,
		timers:   make(map[string]*time.Timer),
		subs:     make(map[string]remote.CancelFunc),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Online reports current connectivity as last set.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline flips connectivity. An offline-to-online transition replays
// the pending sync queue before returning.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if wasOnline != online {
		logging.Info("connectivity changed",
			map[string]interface{}{"online": online})
	}

	if online && !wasOnline {
		if _, err := e.SyncPendingChanges(ctx); err != nil {
			logging.Error("pending sync replay after reconnect failed", err, nil)
		}
	}
}

// syncKey names the per-(collection, user) key used for debounce
// timers, pending items and key locks.
func syncKey(collection, userID string) string {
	return collection + "_" + userID
}

// lockKey returns the mutex serializing writes for one (collection,
// user) key, so a local save and an incoming remote change cannot
// interleave their compare-and-overwrite steps.
func (e *Engine) lockKey(collection, userID string) *sync.Mutex {
	key := syncKey(collection, userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.keyLocks[key] = l
	return l
}

// SaveData writes the document locally first, then pushes it to the
// remote store when reachable. Remote trouble never fails the caller:
// the write is queued as a pending sync item instead.
func (e *Engine) SaveData(ctx context.Context, collection, userID string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	lock := e.lockKey(collection, userID)
	lock.Lock()
	defer lock.Unlock()

	doc := models.SyncDocument{
		ID:        userID,
		Data:      raw,
		UpdatedAt: e.clock().UnixMilli(),
	}

	if err := e.store.Put(collection, userID, &doc); err != nil {
		// Local durability is best-effort below init; surfaced only as
		// absence on the next read.
		logging.Error("local save failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
	}

	if !e.Online() {
		e.queuePending(collection, userID, &doc)
		return nil
	}

	merged, err := e.remote.Merge(ctx, collection, userID, &doc)
	if err != nil {
		logging.Warn("remote save failed, queueing",
			map[string]interface{}{
				"collection": collection,
				"user_id":    userID,
				"error":      err.Error(),
			})
		e.queuePending(collection, userID, &doc)
		return nil
	}

	e.confirmSynced(collection, userID, &doc, merged)
	return nil
}

// confirmSynced stamps the local copy with the server-assigned sync
// timestamp and clears any stale pending item for the key.
func (e *Engine) confirmSynced(collection, userID string, doc *models.SyncDocument, merged *models.SyncDocument) {
	if merged != nil && merged.SyncedAt != nil {
		doc.MarkSynced(*merged.SyncedAt)
	}
	if err := e.store.Put(collection, userID, doc); err != nil {
		logging.Error("recording sync timestamp failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
	}
	if err := e.store.Delete(store.CollectionPendingSync, models.PendingSyncID(collection, userID)); err != nil {
		logging.Error("clearing pending item failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
	}
}

// AutoSave debounces SaveData per (collection, user): a new call
// cancels any in-flight timer for the same key and restarts the delay.
// Only the last payload within the window is persisted.
func (e *Engine) AutoSave(collection, userID string, data interface{}, delay time.Duration) {
	if delay <= 0 {
		delay = e.config.AutoSaveDelay
	}

	key := syncKey(collection, userID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, ok := e.timers[key]; ok {
		timer.Stop()
	}

	e.timers[key] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, key)
		e.mu.Unlock()

		if err := e.SaveData(context.Background(), collection, userID, data); err != nil {
			logging.Error("debounced save failed", err,
				map[string]interface{}{"collection": collection, "user_id": userID})
		}
	})
}

// LoadData returns the local copy when present; otherwise it fetches
// from remote (seeding the local copy) when online, and falls back to
// the collection default. A newer remote write is not proactively
// fetched here; convergence comes from the change subscription.
func (e *Engine) LoadData(ctx context.Context, collection, userID string) (json.RawMessage, error) {
	var doc models.SyncDocument
	found, err := e.store.Get(collection, userID, &doc)
	if err != nil {
		logging.Error("local load failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
	}
	if found {
		return doc.Data, nil
	}

	if e.Online() {
		remoteDoc, err := e.remote.Get(ctx, collection, userID)
		if err != nil {
			logging.Warn("remote load failed",
				map[string]interface{}{
					"collection": collection,
					"user_id":    userID,
					"error":      err.Error(),
				})
		} else if remoteDoc != nil {
			if err := e.store.Put(collection, userID, remoteDoc); err != nil {
				logging.Error("seeding local copy failed", err,
					map[string]interface{}{"collection": collection, "user_id": userID})
			}
			return remoteDoc.Data, nil
		}
	}

	return EmptyPayload(collection), nil
}

// ClearUserData removes all per-collection local documents, pending
// items, debounce timers and subscriptions for a user. Invoked on
// logout.
func (e *Engine) ClearUserData(ctx context.Context, userID string) error {
	e.mu.Lock()
	for _, collection := range syncedCollections {
		key := syncKey(collection, userID)
		if timer, ok := e.timers[key]; ok {
			timer.Stop()
			delete(e.timers, key)
		}
		if cancel, ok := e.subs[key]; ok {
			cancel()
			delete(e.subs, key)
		}
		delete(e.keyLocks, key)
	}
	e.mu.Unlock()

	var firstErr error
	for _, collection := range syncedCollections {
		if err := e.store.Delete(collection, userID); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.store.Delete(store.CollectionPendingSync, models.PendingSyncID(collection, userID)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
