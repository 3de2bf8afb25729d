// Package query is the keyed read cache behind dashboard views. Concurrent
// reads of the same key share one fetch, invalidation marks entries stale
// and refetches the ones somebody is watching, and failed fetches keep the
// last good data.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("query: cache closed")

// Status is the lifecycle of an entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Fetcher loads the data for one key.
type Fetcher func(ctx context.Context) (any, error)

// Listener receives a snapshot every time the entry changes.
type Listener func(Entry)

// Entry is a snapshot of one cache slot.
type Entry struct {
	Key       Key
	Data      any
	Status    Status
	Err       error
	FetchedAt time.Time
	Stale     bool
	// Seq is the sequence number of the fetch that produced Data or Err.
	Seq uint64
}

// HasData reports whether a fetch ever succeeded.
func (e Entry) HasData() bool {
	return !e.FetchedAt.IsZero()
}

type entry struct {
	key       Key
	data      any
	status    Status
	err       error
	fetchedAt time.Time
	stale     bool
	started   uint64
	applied   uint64
	// invalidatedAt is the started sequence at the last invalidation. Results
	// of fetches started at or before it land stale.
	invalidatedAt uint64
	fetcher   Fetcher
	listeners map[int]Listener
	lastUsed  time.Time
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:       e.key,
		Data:      e.data,
		Status:    e.status,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Stale:     e.stale,
		Seq:       e.applied,
	}
}

func (e *entry) listenerList() []Listener {
	out := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		out = append(out, fn)
	}
	return out
}

// Option customises a Cache.
type Option func(*Cache)

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStaleTime makes successful data stale after d even without an
// explicit invalidation. Zero keeps data fresh until invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) { c.staleTime = d }
}

// WithGC drops entries nobody subscribes to once they have been unused for
// retention. The sweep runs every interval until Close.
func WithGC(retention, interval time.Duration) Option {
	return func(c *Cache) {
		c.gcRetention = retention
		c.gcInterval = interval
	}
}

// WithMetrics records cache activity.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithBroadcaster shares invalidations with other processes.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Cache) { c.broadcaster = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	id          string
	logger      *zap.Logger
	metrics     *Metrics
	broadcaster Broadcaster
	staleTime   time.Duration
	gcRetention time.Duration
	gcInterval  time.Duration
	now         func() time.Time

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	nextSub int
	closed  bool
}

// New constructs a Cache and starts the background work its options ask
// for.
func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		id:      uuid.NewString(),
		logger:  zap.NewNop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.broadcaster != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.broadcaster.Subscribe(c.ctx, c.applyRemote)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("query: invalidation subscription ended", zap.Error(err))
			}
		}()
	}
	if c.gcRetention > 0 && c.gcInterval > 0 {
		c.wg.Add(1)
		go c.gcLoop()
	}
	return c
}

// Peek returns the entry for key without fetching.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Get returns the current entry and, when it is missing or stale, starts a
// background fetch. The returned snapshot may therefore be loading.
func (c *Cache) Get(ctx context.Context, key Key, fetcher Fetcher) Entry {
	c.mu.Lock()
	e := c.ensureLocked(key, fetcher)
	needsFetch := c.needsFetchLocked(e)
	snapshot := e.snapshot()
	c.claimFetchLocked(e, needsFetch)
	c.mu.Unlock()

	if needsFetch {
		c.metrics.miss()
		c.refetch(key, fetcher)
		if snapshot.Status == StatusIdle {
			snapshot.Status = StatusLoading
		}
	} else {
		c.metrics.hit()
	}
	return snapshot
}

// Fetch loads key and waits for the result. Calls for a key whose fetch is
// already in flight share that fetch, including its context. A failed fetch
// returns the entry with the previous data and the error.
func (c *Cache) Fetch(ctx context.Context, key Key, fetcher Fetcher) (Entry, error) {
	if fetcher == nil {
		return Entry{}, errors.New("query: nil fetcher")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Entry{}, ErrClosed
	}
	c.ensureLocked(key, fetcher)
	c.mu.Unlock()

	id := key.String()
	ch := c.group.DoChan(id, func() (any, error) {
		return c.run(ctx, key, fetcher)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.shared()
		}
		entry, _ := res.Val.(Entry)
		return entry, res.Err
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Ensure returns the cached entry while it is fresh and otherwise fetches
// and waits like Fetch.
func (c *Cache) Ensure(ctx context.Context, key Key, fetcher Fetcher) (Entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key.String()]; ok && e.status == StatusSuccess && !c.needsFetchLocked(e) {
		e.lastUsed = c.now()
		snapshot := e.snapshot()
		c.mu.Unlock()
		c.metrics.hit()
		return snapshot, nil
	}
	c.mu.Unlock()
	c.metrics.miss()
	return c.Fetch(ctx, key, fetcher)
}

func (c *Cache) run(ctx context.Context, key Key, fetcher Fetcher) (Entry, error) {
	id := key.String()

	c.mu.Lock()
	e := c.ensureLocked(key, fetcher)
	e.started++
	seq := e.started
	e.status = StatusLoading
	listeners := e.listenerList()
	snapshot := e.snapshot()
	c.mu.Unlock()
	notify(listeners, snapshot)

	c.metrics.fetch()
	start := c.now()
	data, err := fetcher(ctx)

	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return Entry{Key: key, Data: data, Status: statusFor(err), Err: err}, err
	}
	if seq <= e.applied {
		// A newer fetch or a manual write already landed.
		snapshot := e.snapshot()
		c.mu.Unlock()
		c.logger.Debug("query: discarded superseded result", zap.String("key", id), zap.Uint64("seq", seq))
		return snapshot, err
	}

	e.applied = seq
	if err != nil {
		e.err = err
		e.status = StatusError
		c.metrics.fetchError()
	} else {
		e.data = data
		e.err = nil
		e.status = StatusSuccess
		e.fetchedAt = c.now()
		e.stale = seq <= e.invalidatedAt
	}
	if seq < e.started {
		e.status = StatusLoading
	}
	listeners = e.listenerList()
	snapshot = e.snapshot()
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("query: fetch failed", zap.String("key", id), zap.Error(err))
	} else {
		c.logger.Debug("query: fetched", zap.String("key", id), zap.Duration("duration", c.now().Sub(start)))
	}
	notify(listeners, snapshot)
	return snapshot, err
}

// Subscribe mounts a consumer for key. The listener is called immediately
// with the current entry and again on every change. Missing, stale, or
// failed data is fetched. Invalidations refetch keys with at least one subscriber.
func (c *Cache) Subscribe(key Key, fetcher Fetcher, listener Listener) (unsubscribe func()) {
	c.mu.Lock()
	e := c.ensureLocked(key, fetcher)
	c.nextSub++
	subID := c.nextSub
	if listener != nil {
		e.listeners[subID] = listener
	} else {
		e.listeners[subID] = func(Entry) {}
	}
	needsFetch := (c.needsFetchLocked(e) || e.status == StatusError) && e.fetcher != nil
	snapshot := e.snapshot()
	c.claimFetchLocked(e, needsFetch)
	c.mu.Unlock()

	if listener != nil {
		listener(snapshot)
	}
	if needsFetch {
		c.refetch(key, nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[key.String()]; ok {
				delete(e.listeners, subID)
				e.lastUsed = c.now()
			}
		})
	}
}

// Invalidate marks the entry for key stale and refetches it when watched.
// It returns the number of entries marked.
func (c *Cache) Invalidate(ctx context.Context, key Key) int {
	n := c.invalidate(func(k Key) bool { return k.Equal(key) })
	c.publish(ctx, Invalidation{Key: key})
	return n
}

// InvalidatePrefix marks every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix Key) int {
	n := c.invalidate(func(k Key) bool { return k.HasPrefix(prefix) })
	c.publish(ctx, Invalidation{Key: prefix, Prefix: true})
	return n
}

func (c *Cache) invalidate(match func(Key) bool) int {
	var refetch []Key
	var updates []func()

	c.mu.Lock()
	count := 0
	for id, e := range c.entries {
		if !match(e.key) {
			continue
		}
		count++
		e.stale = true
		e.invalidatedAt = e.started
		c.group.Forget(id)
		if len(e.listeners) > 0 && e.fetcher != nil {
			refetch = append(refetch, e.key)
		}
		listeners, snapshot := e.listenerList(), e.snapshot()
		updates = append(updates, func() { notify(listeners, snapshot) })
	}
	c.mu.Unlock()

	c.metrics.invalidated(count)
	for _, update := range updates {
		update()
	}
	for _, key := range refetch {
		c.refetch(key, nil)
	}
	return count
}

// SetData writes data for key directly, superseding any fetch in flight.
func (c *Cache) SetData(key Key, data any) {
	c.mu.Lock()
	e := c.ensureLocked(key, nil)
	e.started++
	e.applied = e.started
	e.data = data
	e.err = nil
	e.status = StatusSuccess
	e.stale = false
	e.fetchedAt = c.now()
	listeners, snapshot := e.listenerList(), e.snapshot()
	c.mu.Unlock()

	notify(listeners, snapshot)
}

// Remove deletes the entry for key.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.String()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	c.group.Forget(id)
	return true
}

// Clear deletes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.group.Forget(id)
	}
	c.entries = make(map[string]*entry)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GC removes unsubscribed entries unused for longer than retention and
// returns how many were dropped.
func (c *Cache) GC(retention time.Duration) int {
	cutoff := c.now().Add(-retention)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if len(e.listeners) > 0 || e.status == StatusLoading || e.lastUsed.After(cutoff) {
			continue
		}
		delete(c.entries, id)
		removed++
	}
	if removed > 0 {
		c.logger.Debug("query: collected entries", zap.Int("count", removed))
	}
	return removed
}

// Wait blocks until background fetches started so far have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close stops background work and waits for it. The broadcaster, if any,
// is closed too.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	var err error
	if c.broadcaster != nil {
		err = c.broadcaster.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Cache) ensureLocked(key Key, fetcher Fetcher) *entry {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{
			key:       append(Key(nil), key...),
			status:    StatusIdle,
			listeners: make(map[int]Listener),
		}
		c.entries[id] = e
	}
	if fetcher != nil {
		e.fetcher = fetcher
	}
	e.lastUsed = c.now()
	return e
}

// claimFetchLocked marks e loading before a background fetch is started so
// readers arriving before it runs do not start another.
func (c *Cache) claimFetchLocked(e *entry, needsFetch bool) {
	if needsFetch && !c.closed && e.fetcher != nil {
		e.status = StatusLoading
	}
}

func (c *Cache) needsFetchLocked(e *entry) bool {
	if e.status == StatusLoading {
		return false
	}
	if e.fetchedAt.IsZero() || e.stale {
		return e.status != StatusError || e.stale
	}
	return c.staleTime > 0 && c.now().Sub(e.fetchedAt) > c.staleTime
}

// refetch runs a fetch in the background using the stored fetcher when
// fetcher is nil.
func (c *Cache) refetch(key Key, fetcher Fetcher) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if fetcher == nil {
		if e, ok := c.entries[key.String()]; ok {
			fetcher = e.fetcher
		}
	}
	if fetcher == nil {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.Fetch(c.ctx, key, fetcher); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("query: background fetch failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()
}

func (c *Cache) gcLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.GC(c.gcRetention)
		}
	}
}

func (c *Cache) publish(ctx context.Context, inv Invalidation) {
	if c.broadcaster == nil {
		return
	}
	inv.Origin = c.id
	if err := c.broadcaster.Publish(ctx, inv); err != nil {
		c.logger.Warn("query: publish invalidation failed", zap.String("key", inv.Key.String()), zap.Error(err))
	}
}

func (c *Cache) applyRemote(inv Invalidation) {
	if inv.Origin == c.id {
		return
	}
	var n int
	if inv.Prefix {
		n = c.invalidate(func(k Key) bool { return k.HasPrefix(inv.Key) })
	} else {
		n = c.invalidate(func(k Key) bool { return k.Equal(inv.Key) })
	}
	c.logger.Debug("query: applied remote invalidation",
		zap.String("key", inv.Key.String()),
		zap.Bool("prefix", inv.Prefix),
		zap.Int("entries", n))
}

func notify(listeners []Listener, snapshot Entry) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func statusFor(err error) Status {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
