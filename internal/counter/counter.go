// Package counter derives rolling-window token counts from ledger entries.
// The window is a live "recent activity" indicator and is independent of
// the slot schedule.
package counter

import (
	"time"

	"token-tally/internal/model"
)

// Window is the trailing window used for the live counter display.
const Window = 15 * time.Minute

// Compute sums quantities of entries newer than now-Window, grouped by
// token number 0–9, zero-filled for absent numbers.
func Compute(entries []model.TokenEntry, now time.Time) map[int]int {
	counts := make(map[int]int, 10)
	for i := 0; i < 10; i++ {
		counts[i] = 0
	}
	cutoff := now.Add(-Window).UnixMilli()
	for _, e := range entries {
		if e.Timestamp > cutoff {
			counts[e.Number] += e.Quantity
		}
	}
	return counts
}

// Recent returns the entries newer than now-window, preserving order.
func Recent(entries []model.TokenEntry, now time.Time, window time.Duration) []model.TokenEntry {
	cutoff := now.Add(-window).UnixMilli()
	var out []model.TokenEntry
	for _, e := range entries {
		if e.Timestamp > cutoff {
			out = append(out, e)
		}
	}
	return out
}
