package notification

import (
	"sync"
	"time"
)

const DefaultFeedSize = 50

// Toast is a user-facing message shown by the UI.
type Toast struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	ProductID int       `json:"product_id"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Feed keeps the most recent toasts, oldest dropped first.
type Feed struct {
	mu    sync.RWMutex
	items []Toast
	next  int
	full  bool
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{items: make([]Toast, size)}
}

func (f *Feed) Append(t Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.next] = t
	f.next = (f.next + 1) % len(f.items)
	if f.next == 0 {
		f.full = true
	}
}

// Recent returns up to limit toasts, newest first. limit <= 0 means all.
func (f *Feed) Recent(limit int) []Toast {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Toast, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + len(f.items)) % len(f.items)
		out = append(out, f.items[idx])
	}
	return out
}
