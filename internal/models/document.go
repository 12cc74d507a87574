// Package models provides data model definitions for plannerd.
package models

import (
	"encoding/json"
	"time"
)

// SyncDocument is the unit of synchronization: one document per
// (collection, user). A user's entire task list is one document.
type SyncDocument struct {
	ID        string          `db:"id" json:"id"` // owner user id
	Data      json.RawMessage `db:"data" json:"data"`
	UpdatedAt int64           `db:"updated_at" json:"updatedAt"`         // ms since epoch
	SyncedAt  *int64          `db:"synced_at" json:"syncedAt,omitempty"` // last confirmed remote sync
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (d *SyncDocument) UpdatedAtTime() time.Time {
	return time.UnixMilli(d.UpdatedAt)
}

// MarkSynced records a confirmed remote sync timestamp.
func (d *SyncDocument) MarkSynced(at int64) {
	d.SyncedAt = &at
}
