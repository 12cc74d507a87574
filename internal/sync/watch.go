package sync

import (
	"context"

	"github.com/yuchilin/plannerd/internal/events"
	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
)

// WatchUser opens one remote change subscription per synced collection
// for the logged-in user. Watching an already-watched key replaces the
// prior subscription.
func (e *Engine) WatchUser(ctx context.Context, userID string) error {
	for _, collection := range syncedCollections {
		collection := collection
		cancel, err := e.remote.Subscribe(ctx, collection, userID, func(doc *models.SyncDocument) {
			e.applyRemoteChange(collection, userID, doc)
		})
		if err != nil {
			e.UnwatchUser(userID)
			return err
		}

		key := syncKey(collection, userID)
		e.mu.Lock()
		if prior, ok := e.subs[key]; ok {
			prior()
		}
		e.subs[key] = cancel
		e.mu.Unlock()
	}
	return nil
}

// UnwatchUser tears down every subscription held for the user.
func (e *Engine) UnwatchUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, collection := range syncedCollections {
		key := syncKey(collection, userID)
		if cancel, ok := e.subs[key]; ok {
			cancel()
			delete(e.subs, key)
		}
	}
}

// applyRemoteChange is the single conflict-handling rule: the incoming
// document overwrites the local copy only when its timestamp is
// strictly newer (or no local copy exists). Exact-timestamp collisions
// keep the local copy. Overwrites publish "<collection>Updated".
func (e *Engine) applyRemoteChange(collection, userID string, doc *models.SyncDocument) {
	lock := e.lockKey(collection, userID)
	lock.Lock()
	defer lock.Unlock()

	var local models.SyncDocument
	found, err := e.store.Get(collection, userID, &local)
	if err != nil {
		logging.Error("loading local copy for remote change failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
		return
	}

	if found && doc.UpdatedAt <= local.UpdatedAt {
		logging.Debug("remote change is not newer, keeping local copy",
			map[string]interface{}{
				"collection": collection,
				"user_id":    userID,
				"remote":     doc.UpdatedAt,
				"local":      local.UpdatedAt,
			})
		return
	}

	if err := e.store.Put(collection, userID, doc); err != nil {
		logging.Error("applying remote change failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
		return
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Topic:  events.UpdatedTopic(collection),
			UserID: userID,
			Data:   doc.Data,
		})
	}
}

// Resync force-fetches the remote document for every synced collection
// and applies each under the same newer-wins rule, for explicit refresh
// flows.
func (e *Engine) Resync(ctx context.Context, userID string) error {
	for _, collection := range syncedCollections {
		doc, err := e.remote.Get(ctx, collection, userID)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		e.applyRemoteChange(collection, userID, doc)
	}
	return nil
}
