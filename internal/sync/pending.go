package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/models"
	"github.com/yuchilin/plannerd/internal/store"
)

// queuePending records a sync document write that could not reach the
// remote store. At most one item exists per (collection, user); a later
// write overwrites an earlier queued one and resets its retry state.
func (e *Engine) queuePending(collection, userID string, doc *models.SyncDocument) {
	item := models.PendingSyncItem{
		ID:          models.PendingSyncID(collection, userID),
		Collection:  collection,
		UserID:      userID,
		Data:        doc.Data,
		UpdatedAt:   doc.UpdatedAt,
		Attempts:    0,
		NextRetryAt: e.clock().UnixMilli(),
	}

	if err := e.store.Put(store.CollectionPendingSync, item.ID, &item); err != nil {
		logging.Error("queueing pending sync item failed", err,
			map[string]interface{}{"collection": collection, "user_id": userID})
	}
}

// PendingCount returns the number of queued pending sync items.
func (e *Engine) PendingCount() (int, error) {
	records, err := e.store.GetAll(store.CollectionPendingSync)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// SyncPendingChanges replays every due pending item as a merge-write.
// Successes are deleted; failures are re-queued with exponential
// backoff, and dropped once the configured attempt cap is exceeded
// (cap 0 = retry without bound). Returns the number of items synced.
func (e *Engine) SyncPendingChanges(ctx context.Context) (int, error) {
	records, err := e.store.GetAll(store.CollectionPendingSync)
	if err != nil {
		return 0, err
	}

	now := e.clock().UnixMilli()
	synced := 0

	for _, record := range records {
		var item models.PendingSyncItem
		if err := json.Unmarshal(record, &item); err != nil {
			logging.Error("pending item is malformed, dropping", err, nil)
			continue
		}

		if item.NextRetryAt > now {
			continue
		}

		if err := e.replayPendingItem(ctx, &item); err != nil {
			e.recordPendingFailure(&item, err)
			continue
		}
		synced++
	}

	if synced > 0 {
		logging.Info("pending sync replay completed",
			map[string]interface{}{"synced": synced, "total": len(records)})
	}

	return synced, nil
}

// replayPendingItem pushes one queued write to the remote store and
// confirms the local copy on success.
func (e *Engine) replayPendingItem(ctx context.Context, item *models.PendingSyncItem) error {
	lock := e.lockKey(item.Collection, item.UserID)
	lock.Lock()
	defer lock.Unlock()

	doc := models.SyncDocument{
		ID:        item.UserID,
		Data:      item.Data,
		UpdatedAt: item.UpdatedAt,
	}

	merged, err := e.remote.Merge(ctx, item.Collection, item.UserID, &doc)
	if err != nil {
		return err
	}

	// Only stamp the local copy when the queued payload is still the
	// current one; a newer local write must not be rolled back.
	var local models.SyncDocument
	found, getErr := e.store.Get(item.Collection, item.UserID, &local)
	if getErr == nil && found && local.UpdatedAt == doc.UpdatedAt {
		e.confirmSynced(item.Collection, item.UserID, &local, merged)
	} else {
		if err := e.store.Delete(store.CollectionPendingSync, item.ID); err != nil {
			logging.Error("clearing pending item failed", err, nil)
		}
	}
	return nil
}

// recordPendingFailure re-queues a failed item with backoff or drops it
// past the attempt cap.
func (e *Engine) recordPendingFailure(item *models.PendingSyncItem, cause error) {
	item.Attempts++
	item.LastError = cause.Error()

	if e.config.MaxAttempts > 0 && item.Attempts >= e.config.MaxAttempts {
		logging.Warn("pending sync item exceeded retry cap, dropping",
			map[string]interface{}{
				"collection": item.Collection,
				"user_id":    item.UserID,
				"attempts":   item.Attempts,
			})
		if err := e.store.Delete(store.CollectionPendingSync, item.ID); err != nil {
			logging.Error("dropping pending item failed", err, nil)
		}
		return
	}

	item.NextRetryAt = e.clock().Add(e.backoff(item.Attempts)).UnixMilli()

	if err := e.store.Put(store.CollectionPendingSync, item.ID, item); err != nil {
		logging.Error("re-queueing pending item failed", err, nil)
	}

	logging.Warn("pending sync item failed, will retry",
		map[string]interface{}{
			"collection": item.Collection,
			"user_id":    item.UserID,
			"attempts":   item.Attempts,
			"error":      cause.Error(),
		})
}

// backoff doubles the base delay per attempt, capped.
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.config.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.config.RetryCap {
			return e.config.RetryCap
		}
	}
	if d > e.config.RetryCap {
		d = e.config.RetryCap
	}
	return d
}
