package history_test

import (
	"path/filepath"
	"testing"

	"token-tally/internal/flush"
	"token-tally/internal/history"
	"token-tally/internal/model"
)

func openTemp(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rec(id int64, date, slot string) model.Record {
	return model.Record{
		ID:       id,
		Date:     date,
		TimeSlot: slot,
		Entries:  []model.WireEntry{{Number: 3, Quantity: 2, Timestamp: 1772442000000}},
		Counts:   map[string]int{"3": 2},
		SavedAt:  date + "T10:00:00Z",
	}
}

func TestUpsertAndRecords(t *testing.T) {
	db := openTemp(t)

	err := db.UpsertRecords([]model.Record{
		rec(1, "2026-03-01", "09:15"),
		rec(2, "2026-03-01", "11:20"),
		rec(3, "2026-03-02", "09:15"),
	})
	if err != nil {
		t.Fatalf("UpsertRecords: %v", err)
	}

	all, err := db.Records("", "", "", 0)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Newest first: date desc, then slot desc.
	if all[0].ID != 3 || all[1].ID != 2 || all[2].ID != 1 {
		t.Errorf("order = %d, %d, %d", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].Counts["3"] != 2 || len(all[0].Entries) != 1 {
		t.Errorf("cached payload not decoded: %+v", all[0])
	}
}

func TestUpsertReplacesStaleCopy(t *testing.T) {
	db := openTemp(t)

	if err := db.UpsertRecords([]model.Record{rec(1, "2026-03-01", "09:15")}); err != nil {
		t.Fatal(err)
	}
	updated := rec(1, "2026-03-01", "09:15")
	updated.Counts = map[string]int{"3": 9}
	if err := db.UpsertRecords([]model.Record{updated}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.Records("", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (upsert, not duplicate)", len(got))
	}
	if got[0].Counts["3"] != 9 {
		t.Errorf("counts = %v, want the replaced copy", got[0].Counts)
	}
}

func TestRecordsFilters(t *testing.T) {
	db := openTemp(t)
	err := db.UpsertRecords([]model.Record{
		rec(1, "2026-03-01", "09:15"),
		rec(2, "2026-03-02", "09:15"),
		rec(3, "2026-03-03", "11:20"),
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name             string
		start, end, slot string
		limit            int
		wantIDs          []int64
	}{
		{"start date", "2026-03-02", "", "", 0, []int64{3, 2}},
		{"end date", "", "2026-03-02", "", 0, []int64{2, 1}},
		{"range", "2026-03-02", "2026-03-02", "", 0, []int64{2}},
		{"slot", "", "", "09:15", 0, []int64{2, 1}},
		{"limit", "", "", "", 2, []int64{3, 2}},
		{"no match", "2027-01-01", "", "", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Records(tt.start, tt.end, tt.slot, tt.limit)
			if err != nil {
				t.Fatalf("Records: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestFlushJournal(t *testing.T) {
	db := openTemp(t)

	// DB satisfies the coordinator's journal contract.
	var _ flush.Journal = db

	if err := db.Begin("attempt-1", "2026-03-02_09:15", 2, 8); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := db.Transition("attempt-1", flush.StateInFlight, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := db.Transition("attempt-1", flush.StateFailed, "connection refused"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	attempts, err := db.Attempts(10)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("len = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if a.ID != "attempt-1" || a.SlotKey != "2026-03-02_09:15" {
		t.Errorf("attempt = %+v", a)
	}
	if a.EntryCount != 2 || a.TotalQuantity != 8 {
		t.Errorf("counts = %d/%d, want 2/8", a.EntryCount, a.TotalQuantity)
	}
	if a.State != flush.StateFailed || a.Detail != "connection refused" {
		t.Errorf("state = %s detail = %q", a.State, a.Detail)
	}
}

func TestTransitionUnknownAttempt(t *testing.T) {
	db := openTemp(t)
	// Journal implementations must tolerate unknown attempt IDs.
	if err := db.Transition("never-seen", flush.StateConfirmed, ""); err != nil {
		t.Errorf("Transition on unknown attempt: %v", err)
	}
}
