package models

import "time"

// SyncStatus represents the current ingestion state of a symbol as persisted
// in the store's sync_status table.
type SyncStatus struct {
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"` // "syncing" while in flight, then "ok", "empty" or "failed"
	RowsWritten int       `json:"rows_written"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
