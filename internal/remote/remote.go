// Package remote provides the client for the remote document store:
// one addressable document per (collection, user), with point get,
// merge put and a push-style change subscription.
package remote

import (
	"context"

	"github.com/yuchilin/plannerd/internal/models"
)

// CancelFunc tears down a change subscription.
type CancelFunc func()

// ChangeHandler receives the full current document whenever it changes
// remotely.
type ChangeHandler func(doc *models.SyncDocument)

// DocumentStore is the remote side of the sync split. Authentication
// and session identity are supplied by the concrete implementation.
type DocumentStore interface {
	// Get fetches the document for (collection, userID). An absent
	// document returns (nil, nil).
	Get(ctx context.Context, collection, userID string) (*models.SyncDocument, error)

	// Merge writes the document with field-level shallow merge
	// semantics: fields present in doc.Data win, fields absent keep
	// their remote values. The returned document carries the
	// server-assigned sync timestamp.
	Merge(ctx context.Context, collection, userID string, doc *models.SyncDocument) (*models.SyncDocument, error)

	// Subscribe registers a handler for remote changes to
	// (collection, userID). The handler receives the full current
	// document on every change until the returned CancelFunc runs.
	Subscribe(ctx context.Context, collection, userID string, h ChangeHandler) (CancelFunc, error)
}
