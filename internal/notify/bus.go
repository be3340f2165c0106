package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for display.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

const (
	// DefaultTTL is how long a notification stays visible.
	DefaultTTL = 5 * time.Second
	// ErrorTTL keeps errors on screen longer.
	ErrorTTL = 8 * time.Second
)

// Notification is a transient user-facing event. Owned by the Bus from
// Add until removal (timeout or explicit dismissal).
type Notification struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl_ms"`
	Sticky    bool          `json:"sticky,omitempty"`
}

// Listener receives the full current list (most-recent-first) on every
// add or remove.
type Listener func([]Notification)

// Bus is the process-wide notification feed. One instance is created at
// startup and passed to consumers; there is no package-level singleton.
type Bus struct {
	mu        sync.Mutex
	items     []Notification // most-recent-first
	timers    map[string]*time.Timer
	listeners map[int]Listener
	nextSub   int
}

func NewBus() *Bus {
	return &Bus{
		timers:    make(map[string]*time.Timer),
		listeners: make(map[int]Listener),
	}
}

// Add stamps the notification with a unique id and creation time,
// prepends it, and schedules automatic removal unless Sticky.
// A zero TTL gets the per-type default. Returns the assigned id.
func (b *Bus) Add(n Notification) string {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()
	if n.TTL == 0 {
		if n.Type == TypeError {
			n.TTL = ErrorTTL
		} else {
			n.TTL = DefaultTTL
		}
	}

	b.mu.Lock()
	b.items = append([]Notification{n}, b.items...)
	if !n.Sticky {
		id := n.ID
		b.timers[id] = time.AfterFunc(n.TTL, func() {
			b.Remove(id)
		})
	}
	b.mu.Unlock()

	b.broadcast()
	return n.ID
}

// Remove deletes the matching entry. Removing an id that is absent
// (already expired or dismissed) is a no-op.
func (b *Bus) Remove(id string) {
	b.mu.Lock()
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
	idx := -1
	for i, n := range b.items {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items[:idx], b.items[idx+1:]...)
	b.mu.Unlock()

	b.broadcast()
}

// Subscribe registers a listener and returns its unsubscribe func.
// The listener is immediately called with the current list.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.listeners[id] = l
	current := b.snapshotLocked()
	b.mu.Unlock()

	l(current)

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// List returns the current notifications, most-recent-first.
func (b *Bus) List() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Count reports the number of active notifications.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Bus) snapshotLocked() []Notification {
	out := make([]Notification, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Bus) broadcast() {
	b.mu.Lock()
	current := b.snapshotLocked()
	ls := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()

	// Listeners run outside the lock so they may call back into the bus.
	for _, l := range ls {
		l(current)
	}
}

// Success, Error, Warning and Info are shorthands used across the console.

func (b *Bus) Success(msg string) string {
	return b.Add(Notification{Type: TypeSuccess, Message: msg})
}

func (b *Bus) Error(msg string) string {
	return b.Add(Notification{Type: TypeError, Message: msg})
}

func (b *Bus) Warning(msg string) string {
	return b.Add(Notification{Type: TypeWarning, Message: msg})
}

func (b *Bus) Info(msg string) string {
	return b.Add(Notification{Type: TypeInfo, Message: msg})
}
