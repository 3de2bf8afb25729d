// Package notify is the transient notification sink: outcomes of user
// actions are pushed here, shown in insertion order, and dismissed after a
// fixed duration.
package notify

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDuration is how long a notification stays listed.
const DefaultDuration = 5 * time.Second

// Variant selects how a notification is presented.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

func normalizeVariant(v Variant) Variant {
	if strings.EqualFold(string(v), string(VariantDestructive)) {
		return VariantDestructive
	}
	return VariantDefault
}

// Notification is a single transient message.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     Variant   `json:"variant"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Notifier is the write side of a sink. The mutation executor depends on
// this instead of the concrete Sink.
type Notifier interface {
	Notify(n Notification) string
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(n Notification) string

// Notify implements Notifier.
func (fn NotifierFunc) Notify(n Notification) string { return fn(n) }

// Listener receives the full list after every change.
type Listener func(list []Notification)

// Option customises a Sink.
type Option func(*Sink)

// WithDuration sets the auto-dismiss delay. Zero or negative keeps
// notifications until dismissed.
func WithDuration(d time.Duration) Option {
	return func(s *Sink) { s.duration = d }
}

// WithLimit caps how many notifications are listed; the oldest are dropped
// first.
func WithLimit(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// Sink stores live notifications. It is safe for concurrent use.
type Sink struct {
	duration time.Duration
	limit    int
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	items     []Notification
	timers    map[string]*time.Timer
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// New constructs a Sink.
func New(opts ...Option) *Sink {
	s := &Sink{
		duration:  DefaultDuration,
		logger:    zap.NewNop(),
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Notify appends n and returns its ID. Title and description are reduced to
// plain text before they are stored.
func (s *Sink) Notify(n Notification) string {
	n.ID = uuid.NewString()
	n.Title = Sanitize(n.Title)
	n.Description = Sanitize(n.Description)
	n.Variant = normalizeVariant(n.Variant)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	s.items = append(s.items, n)
	for s.limit > 0 && len(s.items) > s.limit {
		dropped := s.items[0]
		s.items = s.items[1:]
		s.stopTimerLocked(dropped.ID)
	}
	if s.duration > 0 {
		id := n.ID
		s.timers[id] = time.AfterFunc(s.duration, func() { s.Dismiss(id) })
	}
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("notify: added",
		zap.String("id", n.ID),
		zap.String("variant", string(n.Variant)),
		zap.String("title", n.Title))
	publish(listeners, snapshot)
	return n.ID
}

// Dismiss removes a notification. It reports whether id was listed.
func (s *Sink) Dismiss(id string) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	s.stopTimerLocked(id)
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	publish(listeners, snapshot)
	return true
}

// List returns the live notifications in insertion order.
func (s *Sink) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Clear dismisses everything.
func (s *Sink) Clear() {
	s.mu.Lock()
	for id := range s.timers {
		s.stopTimerLocked(id)
	}
	s.items = nil
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	publish(listeners, snapshot)
}

// Subscribe registers fn for list changes.
func (s *Sink) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close stops pending timers. Later calls to Notify are ignored.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id := range s.timers {
		s.stopTimerLocked(id)
	}
}

func (s *Sink) stopTimerLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Sink) snapshotLocked() ([]Notification, []Listener) {
	if len(s.listeners) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	return slices.Clone(s.items), listeners
}

func publish(listeners []Listener, snapshot []Notification) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}
