// Package flush orchestrates when accumulated ledger entries are sent to
// the remote service: slot-boundary crossings, startup catch-up for slots
// missed while the program was not running, and the final flush on
// shutdown. Each slot bucket resolves independently; entries are removed
// from the ledger only after their own bucket is confirmed.
package flush

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"token-tally/internal/api"
	"token-tally/internal/ledger"
	"token-tally/internal/model"
	"token-tally/internal/schedule"
)

// State is the lifecycle of one flush attempt.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// ErrFlushInProgress is returned when a final flush is already running.
var ErrFlushInProgress = errors.New("flush already in progress")

// Sink is the remote store a coordinator sends payloads to. Save is the
// ambient path; SaveFinal is the teardown path that carries the credential
// explicitly.
type Sink interface {
	Save(ctx context.Context, p model.SlotPayload) (api.SaveResult, error)
	SaveFinal(ctx context.Context, p model.SlotPayload) (api.SaveResult, error)
}

// Journal records flush-attempt state transitions. Implementations must
// tolerate being called for attempts they have never seen.
type Journal interface {
	Begin(attemptID, slotKey string, entryCount, totalQuantity int) error
	Transition(attemptID string, state State, detail string) error
}

// Coordinator drives the three flush triggers against one ledger and sink.
type Coordinator struct {
	ledger  *ledger.Ledger
	sink    Sink
	journal Journal // optional
	loc     *time.Location

	// Notify receives transient success messages for scheduled flushes.
	// Nil means silent. Background failures are never surfaced here; they
	// self-heal on the next trigger.
	Notify func(msg string)

	mu           sync.Mutex
	inProgress   bool   // re-entrancy guard for the final flush
	lastBoundary string // "<date>_<slot>" memo for the boundary trigger
}

// New returns a Coordinator. loc is the timezone slot boundaries are
// interpreted in; nil means time.Local. journal may be nil.
func New(l *ledger.Ledger, sink Sink, journal Journal, loc *time.Location) *Coordinator {
	if loc == nil {
		loc = time.Local
	}
	return &Coordinator{ledger: l, sink: sink, journal: journal, loc: loc}
}

// WaveResult summarises one multi-bucket flush wave.
type WaveResult struct {
	Attempted int
	Confirmed int
	Failed    int
}

// Partition groups entries into slot buckets keyed by the entry's own
// calendar date and its classified slot, ordered by date then slot.
func Partition(entries []model.TokenEntry, loc *time.Location) []model.SlotBucket {
	byKey := make(map[string]*model.SlotBucket)
	var keys []string
	for _, e := range entries {
		t := e.Time(loc)
		date := schedule.DateKey(t)
		slot := schedule.Classify(t)
		key := schedule.SlotKey(date, slot)
		b, ok := byKey[key]
		if !ok {
			b = &model.SlotBucket{Date: date, Slot: slot}
			byKey[key] = b
			keys = append(keys, key)
		}
		b.Entries = append(b.Entries, e)
	}
	sort.Strings(keys)
	out := make([]model.SlotBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

// BuildPayload snapshots a bucket into the wire payload plus the ledger IDs
// the payload covers. Counts are computed only over the snapshotted entries.
func BuildPayload(date, slot string, entries []model.TokenEntry, now time.Time) (model.SlotPayload, []string) {
	counts := make(map[string]int, 10)
	for i := 0; i < 10; i++ {
		counts[fmt.Sprintf("%d", i)] = 0
	}
	wire := make([]model.WireEntry, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		wire = append(wire, model.WireEntry{Number: e.Number, Quantity: e.Quantity, Timestamp: e.Timestamp})
		counts[fmt.Sprintf("%d", e.Number)] += e.Quantity
		ids = append(ids, e.ID)
	}
	return model.SlotPayload{
		TimeSlotID: schedule.SlotKey(date, slot),
		Date:       date,
		TimeSlot:   slot,
		Entries:    wire,
		Counts:     counts,
		Timestamp:  now.Format(time.RFC3339),
	}, ids
}

// flushBucket runs one attempt through the state machine. On confirmation
// it removes exactly the snapshotted entries; the removal re-reads the
// ledger under its own lock, so entries appended while the request was in
// flight survive for the next cycle.
func (c *Coordinator) flushBucket(ctx context.Context, date, slot string, entries []model.TokenEntry, now time.Time, final bool) error {
	payload, ids := BuildPayload(date, slot, entries, now)

	attemptID := uuid.NewString()
	totalQty := 0
	for _, e := range entries {
		totalQty += e.Quantity
	}
	c.record(func(j Journal) error {
		return j.Begin(attemptID, payload.TimeSlotID, len(entries), totalQty)
	})
	c.record(func(j Journal) error { return j.Transition(attemptID, StateInFlight, "") })

	var err error
	if final {
		_, err = c.sink.SaveFinal(ctx, payload)
	} else {
		_, err = c.sink.Save(ctx, payload)
	}
	if err != nil {
		c.record(func(j Journal) error { return j.Transition(attemptID, StateFailed, err.Error()) })
		return err
	}

	if rmErr := c.ledger.Remove(ids); rmErr != nil {
		// The remote has the data; a removal failure means the entries may
		// be flushed again. Report it but treat the attempt as confirmed.
		fmt.Fprintf(os.Stderr, "Warning: could not remove flushed entries: %v\n", rmErr)
	}
	c.record(func(j Journal) error { return j.Transition(attemptID, StateConfirmed, "") })
	return nil
}

func (c *Coordinator) record(fn func(Journal) error) {
	if c.journal == nil {
		return
	}
	if err := fn(c.journal); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: flush journal: %v\n", err)
	}
}

// CheckBoundary fires the boundary trigger: when now is exactly a slot
// boundary (seconds == 0, HH:MM equal to a slot label) that this session
// has not handled yet, it flushes all currently unflushed entries as that
// slot's payload. The per-session memo is set when the boundary is matched,
// so a second tick inside the same boundary window never issues a second
// save; a failed attempt is retried by the other triggers, not by the same
// boundary.
func (c *Coordinator) CheckBoundary(ctx context.Context, now time.Time) (bool, error) {
	now = now.In(c.loc)
	slot, ok := schedule.IsBoundary(now)
	if !ok {
		return false, nil
	}
	key := schedule.SlotKey(schedule.DateKey(now), slot)

	c.mu.Lock()
	if c.lastBoundary == key {
		c.mu.Unlock()
		return false, nil
	}
	c.lastBoundary = key
	c.mu.Unlock()

	entries := c.ledger.Entries()
	if len(entries) == 0 {
		return false, nil
	}

	if err := c.flushBucket(ctx, schedule.DateKey(now), slot, entries, now, false); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: scheduled flush for %s failed: %v\n", key, err)
		return false, err
	}
	if c.Notify != nil {
		c.Notify(fmt.Sprintf("Saved %d entries for slot %s", len(entries), key))
	}
	return true, nil
}

// CatchUp flushes every bucket whose slot has closed relative to the
// entries' own dates — data accumulated while the program was not running.
// Buckets are processed sequentially to avoid credential-refresh races.
// Failures are logged only; the entries stay for the next trigger.
func (c *Coordinator) CatchUp(ctx context.Context, now time.Time) WaveResult {
	now = now.In(c.loc)
	var res WaveResult
	for _, b := range Partition(c.ledger.Entries(), c.loc) {
		refDate, err := time.ParseInLocation("2006-01-02", b.Date, c.loc)
		if err != nil {
			continue
		}
		if !schedule.Closed(b.Slot, refDate, now) {
			continue
		}
		res.Attempted++
		if err := c.flushBucket(ctx, b.Date, b.Slot, b.Entries, now, false); err != nil {
			res.Failed++
			fmt.Fprintf(os.Stderr, "Warning: catch-up flush for %s failed: %v\n", b.Key(), err)
			continue
		}
		res.Confirmed++
	}
	return res
}

// Final is the shutdown flush: every current bucket is attempted through
// the teardown transport, closed or not. A re-entrancy guard ensures two
// teardown signals cannot start overlapping waves. Per-bucket results are
// independent; failed buckets keep their entries.
func (c *Coordinator) Final(ctx context.Context, now time.Time) (WaveResult, error) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return WaveResult{}, ErrFlushInProgress
	}
	c.inProgress = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	now = now.In(c.loc)
	var res WaveResult
	for _, b := range Partition(c.ledger.Entries(), c.loc) {
		res.Attempted++
		if err := c.flushBucket(ctx, b.Date, b.Slot, b.Entries, now, true); err != nil {
			res.Failed++
			fmt.Fprintf(os.Stderr, "Warning: final flush for %s failed: %v\n", b.Key(), err)
			continue
		}
		res.Confirmed++
	}
	return res, nil
}

// FlushAll is the manual "save now" path: every current bucket is flushed
// through the ambient transport. Unlike the background triggers it reports
// failures to the caller so the user sees them.
func (c *Coordinator) FlushAll(ctx context.Context, now time.Time) (WaveResult, error) {
	now = now.In(c.loc)
	var res WaveResult
	var errs []error
	for _, b := range Partition(c.ledger.Entries(), c.loc) {
		res.Attempted++
		if err := c.flushBucket(ctx, b.Date, b.Slot, b.Entries, now, false); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", b.Key(), err))
			continue
		}
		res.Confirmed++
	}
	return res, errors.Join(errs...)
}
