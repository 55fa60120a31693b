// Package schedule implements the fixed daily time-slot table and the
// classification of timestamps into slots. The table is asymmetric:
// 15-minute slots from 09:00 through 11:00, then 20-minute slots through
// 21:40, with the final slot ending at 22:00.
package schedule

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// OpeningHour is the first slot of the day (09:00).
	OpeningHour = 9
	// closingMinutes is the end of the final slot, in minutes from midnight (22:00).
	closingMinutes = 22 * 60
)

// Slots returns the ordered list of slot-start labels ("HH:MM") for a day.
// The result is constant; callers may cache it or call it repeatedly.
func Slots() []string {
	var out []string
	// 09:00 up to (not including) 11:00 in 15-minute steps.
	for m := 9 * 60; m < 11*60; m += 15 {
		out = append(out, label(m))
	}
	// 11:00 through 21:40 in 20-minute steps.
	for m := 11 * 60; m <= 21*60+40; m += 20 {
		out = append(out, label(m))
	}
	return out
}

func label(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// minutesOfDay returns t's local time-of-day in minutes, plus seconds within
// the minute for callers that need sub-minute precision.
func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Classify maps a timestamp to the slot-start label that owns it, using only
// the local time-of-day. The assignment is ceiling-style: the first slot
// whose start is at or after the entry's time-of-day. Entries after the last
// slot start fall into the last slot; entries before 09:00 fall into the
// first slot. Total over all inputs.
func Classify(t time.Time) string {
	tod := minutesOfDay(t)
	slots := Slots()
	for _, s := range slots {
		if slotMinutes(s) >= tod {
			return s
		}
	}
	return slots[len(slots)-1]
}

// slotMinutes parses an "HH:MM" label into minutes from midnight.
// Labels come from Slots(), so parsing cannot fail.
func slotMinutes(slot string) int {
	var h, m int
	fmt.Sscanf(slot, "%d:%d", &h, &m)
	return h*60 + m
}

// Closed reports whether the slot with the given label has been reached:
// now is at or past refDate's "HH:MM:00.000". It compares against the slot's
// own start, not its end; under the ceiling classification an entry's slot
// start is the moment the entry becomes due for flushing.
func Closed(slot string, refDate, now time.Time) bool {
	m := slotMinutes(slot)
	boundary := time.Date(refDate.Year(), refDate.Month(), refDate.Day(),
		m/60, m%60, 0, 0, refDate.Location())
	return !now.Before(boundary)
}

// IsBoundary reports whether now is exactly a slot boundary instant:
// seconds == 0 and "HH:MM" equal to a slot label. Returns the matching
// label when true.
func IsBoundary(now time.Time) (string, bool) {
	if now.Second() != 0 {
		return "", false
	}
	hhmm := now.Format("15:04")
	for _, s := range Slots() {
		if s == hhmm {
			return s, true
		}
	}
	return "", false
}

// ActiveSlot describes the slot whose interval contains a point in time,
// for the live countdown display. Outside operating hours a pseudo-slot
// counts down to the next opening.
type ActiveSlot struct {
	Slot            string // "HH:MM", or "pre-open" / "next-day" pseudo labels
	End             time.Time
	DurationMinutes int
	Pseudo          bool
}

// Remaining returns the time left in the slot relative to now.
func (a ActiveSlot) Remaining(now time.Time) time.Duration {
	d := a.End.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Active returns the slot containing now. Before 09:00 it returns the
// "pre-open" pseudo-slot ending at today's 09:00; at or after 22:00 the
// "next-day" pseudo-slot ending at tomorrow's 09:00.
func Active(now time.Time) ActiveSlot {
	tod := minutesOfDay(now)
	slots := Slots()

	openAt := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), OpeningHour, 0, 0, 0, d.Location())
	}

	if tod < slotMinutes(slots[0]) {
		end := openAt(now)
		return ActiveSlot{Slot: "pre-open", End: end, DurationMinutes: int(end.Sub(now).Minutes()) + 1, Pseudo: true}
	}
	if tod >= closingMinutes {
		end := openAt(now.AddDate(0, 0, 1))
		return ActiveSlot{Slot: "next-day", End: end, DurationMinutes: int(end.Sub(now).Minutes()) + 1, Pseudo: true}
	}

	for i, s := range slots {
		start := slotMinutes(s)
		end := closingMinutes
		if i+1 < len(slots) {
			end = slotMinutes(slots[i+1])
		}
		if tod >= start && tod < end {
			endTime := time.Date(now.Year(), now.Month(), now.Day(),
				end/60, end%60, 0, 0, now.Location())
			return ActiveSlot{Slot: s, End: endTime, DurationMinutes: end - start}
		}
	}
	// tod == a slot start exactly at 21:40..22:00 is covered above; the
	// loop is total for 09:00 <= tod < 22:00.
	last := slots[len(slots)-1]
	endTime := time.Date(now.Year(), now.Month(), now.Day(), closingMinutes/60, 0, 0, 0, now.Location())
	return ActiveSlot{Slot: last, End: endTime, DurationMinutes: closingMinutes - slotMinutes(last)}
}

// DateKey formats t as the bucket date component (YYYY-MM-DD).
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// SlotKey builds the "<date>_<slot>" identity used for flush deduplication.
func SlotKey(date, slot string) string {
	return date + "_" + slot
}

// GenerateID creates a unique entry ID based on timestamp and random suffix.
func GenerateID(t time.Time) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 5)
	for i := range suffix {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		suffix[i] = chars[n.Int64()]
	}
	return fmt.Sprintf("%s-%s", t.Format("20060102-150405.000"), string(suffix))
}

// FormatCountdown formats a duration as HH:MM:SS for the live display.
func FormatCountdown(d time.Duration) string {
	s := int64(d.Seconds())
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
