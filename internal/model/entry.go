package model

import "time"

// TokenEntry is a single recorded token observation. Entries are immutable
// once created; they leave the ledger only after a confirmed remote flush.
type TokenEntry struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Quantity  int    `json:"quantity"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Time returns the entry timestamp as a time.Time in the given location.
func (e TokenEntry) Time(loc *time.Location) time.Time {
	return time.UnixMilli(e.Timestamp).In(loc)
}

// LedgerFile is the top-level structure persisted in the ledger JSON file.
type LedgerFile struct {
	Entries   []TokenEntry `json:"entries"`
	ActiveTab string       `json:"active_tab"`
}

// BatchItem is one number/quantity pair of a batch submission, before it
// is stamped and assigned an ID.
type BatchItem struct {
	Number   int
	Quantity int
}

// Summary aggregates all ledger entries for one token number.
type Summary struct {
	Number        int   `json:"number"`
	EntryCount    int   `json:"count"`
	TotalQuantity int   `json:"quantity"`
	LastTimestamp int64 `json:"last_timestamp"`
}

// SlotBucket groups unflushed entries belonging to one slot on one date.
// Buckets are derived on demand during a flush attempt and never persisted.
type SlotBucket struct {
	Date    string // YYYY-MM-DD
	Slot    string // HH:MM slot-start label
	Entries []TokenEntry
}

// Key returns the bucket identity "<date>_<slot>".
func (b SlotBucket) Key() string {
	return b.Date + "_" + b.Slot
}

// WireEntry is the entry shape sent to the remote service (no local ID).
type WireEntry struct {
	Number    int   `json:"number"`
	Quantity  int   `json:"quantity"`
	Timestamp int64 `json:"timestamp"`
}

// SlotPayload is the body of POST /token-data: one slot's aggregated data.
type SlotPayload struct {
	TimeSlotID string         `json:"timeSlotId"`
	Date       string         `json:"date"`
	TimeSlot   string         `json:"timeSlot"`
	Entries    []WireEntry    `json:"entries"`
	Counts     map[string]int `json:"counts"`
	Timestamp  string         `json:"timestamp"` // ISO-8601 build time
}

// Record is a previously flushed slot as returned by GET /token-data.
type Record struct {
	ID       int64          `json:"id"`
	Date     string         `json:"date"`
	TimeSlot string         `json:"time_slot"`
	Entries  []WireEntry    `json:"entries"`
	Counts   map[string]int `json:"counts"`
	SavedAt  string         `json:"created_at"`
}
