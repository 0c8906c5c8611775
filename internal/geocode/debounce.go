package geocode

import (
	"sync"
	"time"
)

// DefaultDebounce matches the quiet period used by the search box.
const DefaultDebounce = 600 * time.Millisecond

// Debouncer coalesces rapid calls into one: only the last function queued
// within the window runs once the window has been quiet.
type Debouncer struct {
	mu    sync.Mutex
	d     time.Duration
	timer *time.Timer
}

func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounce
	}
	return &Debouncer{d: d}
}

// Do schedules fn after the debounce window, cancelling any pending call.
func (db *Debouncer) Do(fn func()) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, fn)
}

// Stop cancels any pending call.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
