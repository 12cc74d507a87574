package models

import (
	"encoding/json"
	"fmt"
)

// PendingSyncItem captures a sync document write that could not reach
// the remote store. At most one outstanding item exists per
// (collection, user); later writes overwrite earlier queued ones.
type PendingSyncItem struct {
	ID          string          `db:"id" json:"id"` // "<collection>_<userID>"
	Collection  string          `db:"collection" json:"collection"`
	UserID      string          `db:"user_id" json:"userId"`
	Data        json.RawMessage `db:"data" json:"data"`
	UpdatedAt   int64           `db:"updated_at" json:"updatedAt"`
	Attempts    int             `db:"attempts" json:"attempts"`
	NextRetryAt int64           `db:"next_retry_at" json:"nextRetryAt"`
	LastError   string          `db:"last_error" json:"lastError,omitempty"`
}

// PendingSyncID builds the pending item key for a (collection, user).
func PendingSyncID(collection, userID string) string {
	return fmt.Sprintf("%s_%s", collection, userID)
}
