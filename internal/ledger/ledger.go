// Package ledger owns the durable collection of not-yet-flushed token
// entries. All mutation goes through atomic append/remove operations so the
// ticker loop, shutdown flush, and user commands can share one instance.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"token-tally/internal/model"
	"token-tally/internal/schedule"
)

// BaseDir returns the root data directory (~/.tokt).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tokt"), nil
}

// FilePath returns the ledger file path inside the data dir.
func FilePath(base string) string {
	return filepath.Join(base, "ledger.json")
}

// Ledger is the owned, mutex-guarded entry collection backed by one JSON
// file. Every mutation persists before returning.
type Ledger struct {
	mu   sync.Mutex
	path string
	file model.LedgerFile
	now  func() time.Time
}

// Open loads the ledger file at path, creating an empty ledger when the
// file does not exist. A corrupt file is backed up with a .corrupt suffix
// and the ledger restarts empty; the session must not be blocked by a bad
// file, but the original bytes are preserved for inspection.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.file = model.LedgerFile{Entries: []model.TokenEntry{}, ActiveTab: "history"}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.file); err != nil {
		backup := path + ".corrupt"
		_ = os.Rename(path, backup)
		fmt.Fprintf(os.Stderr, "Warning: corrupt ledger file backed up to %s: %v\n", backup, err)
		l.file = model.LedgerFile{Entries: []model.TokenEntry{}, ActiveTab: "history"}
		return l, nil
	}
	if l.file.Entries == nil {
		l.file.Entries = []model.TokenEntry{}
	}
	if l.file.ActiveTab == "" {
		l.file.ActiveTab = "history"
	}
	return l, nil
}

// save atomically writes the ledger file. Callers hold l.mu.
func (l *Ledger) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("ledger: creating directories: %w", err)
	}
	data, err := json.MarshalIndent(l.file, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshalling: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("ledger: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: renaming temp file: %w", err)
	}
	return nil
}

// Append records one entry stamped with the current time and persists.
func (l *Ledger) Append(number, quantity int) (model.TokenEntry, error) {
	entries, err := l.AppendBatch([]model.BatchItem{{Number: number, Quantity: quantity}})
	if err != nil {
		return model.TokenEntry{}, err
	}
	return entries[0], nil
}

// AppendBatch records multiple entries sharing one timestamp (a multi-digit
// submission) and persists once.
func (l *Ledger) AppendBatch(items []model.BatchItem) ([]model.TokenEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := now.UnixMilli()
	added := make([]model.TokenEntry, 0, len(items))
	for _, it := range items {
		if it.Number < 0 || it.Number > 9 {
			return nil, fmt.Errorf("ledger: token number %d out of range 0-9", it.Number)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("ledger: quantity must be positive, got %d", it.Quantity)
		}
		added = append(added, model.TokenEntry{
			ID:        schedule.GenerateID(now),
			Number:    it.Number,
			Quantity:  it.Quantity,
			Timestamp: ts,
		})
	}
	l.file.Entries = append(l.file.Entries, added...)
	if err := l.save(); err != nil {
		// Roll the in-memory state back so memory and disk stay consistent.
		l.file.Entries = l.file.Entries[:len(l.file.Entries)-len(added)]
		return nil, err
	}
	return added, nil
}

// Remove drops the entries whose IDs are listed and persists. Entries not
// present are ignored; entries added after the caller took its snapshot are
// untouched.
func (l *Ledger) Remove(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := l.file.Entries[:0]
	for _, e := range l.file.Entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	l.file.Entries = kept
	return l.save()
}

// Clear empties the ledger (logout).
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Entries = []model.TokenEntry{}
	return l.save()
}

// Entries returns a copy of the current entries in insertion order.
func (l *Ledger) Entries() []model.TokenEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.TokenEntry, len(l.file.Entries))
	copy(out, l.file.Entries)
	return out
}

// Len returns the number of unflushed entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.file.Entries)
}

// Summary groups all entries by token number, most recent activity first.
func (l *Ledger) Summary() []model.Summary {
	entries := l.Entries()
	byNumber := make(map[int]*model.Summary)
	for _, e := range entries {
		s, ok := byNumber[e.Number]
		if !ok {
			s = &model.Summary{Number: e.Number, LastTimestamp: e.Timestamp}
			byNumber[e.Number] = s
		}
		s.EntryCount++
		s.TotalQuantity += e.Quantity
		if e.Timestamp > s.LastTimestamp {
			s.LastTimestamp = e.Timestamp
		}
	}
	out := make([]model.Summary, 0, len(byNumber))
	for _, s := range byNumber {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTimestamp != out[j].LastTimestamp {
			return out[i].LastTimestamp > out[j].LastTimestamp
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// ActiveTab returns the persisted UI view preference.
func (l *Ledger) ActiveTab() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.ActiveTab
}

// SetActiveTab persists the UI view preference ("history" or "tokens").
func (l *Ledger) SetActiveTab(tab string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.ActiveTab = tab
	return l.save()
}
