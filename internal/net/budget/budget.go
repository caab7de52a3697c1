package budget

import (
	"fmt"
	"sync"
	"time"
)

// ExhaustedError reports that the daily request budget is used up
type ExhaustedError struct {
	Used  int64
	Limit int64
	ETA   time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("daily request budget exhausted: %d/%d used, resets at %s",
		e.Used, e.Limit, e.ETA.Format("15:04 UTC"))
}

// Tracker counts outbound requests per UTC day. A zero limit disables it.
type Tracker struct {
	mu        sync.Mutex
	limit     int64
	used      int64
	resetHour int
	lastReset time.Time
	now       func() time.Time
}

// NewTracker creates a tracker that resets at resetHour UTC every day
func NewTracker(limit int64, resetHour int) *Tracker {
	return newTracker(limit, resetHour, time.Now)
}

func newTracker(limit int64, resetHour int, now func() time.Time) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return &Tracker{
		limit:     limit,
		resetHour: resetHour,
		lastReset: lastResetTime(now().UTC(), resetHour),
		now:       now,
	}
}

func lastResetTime(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// must hold t.mu
func (t *Tracker) rollover() {
	now := t.now().UTC()
	if !now.Before(t.lastReset.Add(24 * time.Hour)) {
		t.used = 0
		t.lastReset = lastResetTime(now, t.resetHour)
	}
}

// Consume records one request, or returns *ExhaustedError without recording
// it when the budget is spent.
func (t *Tracker) Consume() error {
	if t == nil || t.limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	if t.used >= t.limit {
		return &ExhaustedError{Used: t.used, Limit: t.limit, ETA: t.lastReset.Add(24 * time.Hour)}
	}
	t.used++
	return nil
}

// Remaining returns the number of requests left today, or -1 when unlimited
func (t *Tracker) Remaining() int64 {
	if t == nil || t.limit <= 0 {
		return -1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	return t.limit - t.used
}
