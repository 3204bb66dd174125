package assets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// LoadFunc produces a live asset. It is called with a context that is not
// cancelled when the requesting caller gives up.
type LoadFunc func(ctx context.Context) (any, error)

// Cache holds weak references to live assets keyed by asset uuid. Live
// assets stay cached for as long as something else keeps them reachable.
//
// Concurrent requests for the same uuid share one load. Loads that wait on
// each other in a cycle fail with ErrCyclicReference instead of
// deadlocking.
type Cache struct {
	reg *Registry
	log *slog.Logger

	mu       sync.Mutex
	entries  map[uuid.UUID]*entry
	inflight map[uuid.UUID]*call
	tracked  map[any]*tracking

	// waits counts, per load, the other loads it is waiting on. Loads
	// rather than uuids are the nodes, since an invalidated load can still
	// be running next to a fresh one for the same asset.
	waits map[*call]map[*call]int

	retain  *lru.Cache[uuid.UUID, any]
	metrics *cacheMetrics
}

// entry must not hold the live asset strongly, so it keeps only the weak
// parts of its handle.
type entry struct {
	key   any
	value func() any
}

// tracking is what the cache knows about a live asset.
type tracking struct {
	id       uuid.UUID
	embedded bool
	typ      *AssetType
}

type call struct {
	done chan struct{}
	val  any
	err  error
}

type CacheOption func(*Cache) error

// RetainRecent keeps strong references to the n most recently used live
// assets so that they survive brief periods without other users.
func RetainRecent(n int) CacheOption {
	return func(c *Cache) error {
		if n <= 0 {
			return nil
		}

		r, err := lru.New[uuid.UUID, any](n)
		if err != nil {
			return err
		}

		c.retain = r
		return nil
	}
}

// CacheMetrics registers the cache's counters with reg.
func CacheMetrics(reg prometheus.Registerer) CacheOption {
	return func(c *Cache) error {
		return reg.Register(c.metrics.events)
	}
}

func CacheLog(log *slog.Logger) CacheOption {
	return func(c *Cache) error {
		c.log = log
		return nil
	}
}

func NewCache(reg *Registry, opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		reg:      reg,
		log:      slog.Default(),
		entries:  make(map[uuid.UUID]*entry),
		inflight: make(map[uuid.UUID]*call),
		tracked:  make(map[any]*tracking),
		waits:    make(map[*call]map[*call]int),
		metrics:  newCacheMetrics(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to configure asset cache: %w", err)
		}
	}

	return c, nil
}

type ownerKey struct{}

// owner is the load that work done with a context is part of.
type owner struct {
	id uuid.UUID
	cl *call
}

func withOwner(ctx context.Context, id uuid.UUID, cl *call) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner{id: id, cl: cl})
}

func ownerFrom(ctx context.Context) owner {
	o, _ := ctx.Value(ownerKey{}).(owner)
	return o
}

// GetOrLoad returns the live asset cached for id, or calls fn to load it.
// fn runs at most once at a time per id no matter how many callers ask.
// A failed load leaves nothing behind, so a later call retries.
func (c *Cache) GetOrLoad(ctx context.Context, id uuid.UUID, fn LoadFunc) (any, error) {
	owner := ownerFrom(ctx)

	c.mu.Lock()

	if v := c.liveLocked(id); v != nil {
		c.mu.Unlock()
		c.metrics.inc("hit")
		return v, nil
	}

	if owner.id == id {
		c.mu.Unlock()
		c.metrics.inc("cycle")
		return nil, assetErr("load", id, ErrCyclicReference)
	}

	cl, loading := c.inflight[id]
	if loading {
		if owner.cl != nil && c.reachesLocked(cl, owner.cl) {
			c.mu.Unlock()
			c.metrics.inc("cycle")
			return nil, assetErr("load", id, ErrCyclicReference)
		}
		c.metrics.inc("coalesced")
	} else {
		cl = &call{done: make(chan struct{})}
		c.inflight[id] = cl
		c.metrics.inc("miss")
		go c.run(ctx, id, cl, fn)
	}

	if owner.cl != nil {
		c.addWaitLocked(owner.cl, cl)
		defer c.removeWait(owner.cl, cl)
	}

	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, id uuid.UUID, cl *call, fn LoadFunc) {
	defer close(cl.done)

	v, err := c.call(withOwner(context.WithoutCancel(ctx), id, cl), fn)

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.inflight[id] == cl
	if current {
		delete(c.inflight, id)
	}

	if err != nil {
		cl.err = err
		return
	}

	t, err := c.trackLocked(v, tracking{id: id})
	if err != nil {
		cl.err = assetErr("load", id, err)
		return
	}

	cl.val = v

	// An invalidation while loading detaches the call; its result is still
	// handed to the callers that asked for it but is not cached.
	if !current {
		return
	}

	c.entries[id] = &entry{key: t.key, value: t.value}

	if c.retain != nil {
		c.retain.Add(id, v)
	}
}

func (c *Cache) call(ctx context.Context, fn LoadFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading asset: %v", r)
		}
	}()

	return fn(ctx)
}

// ForceNewInstance loads id without consulting or filling the cache, so the
// caller gets an instance of its own. The instance can still be saved.
func (c *Cache) ForceNewInstance(ctx context.Context, id uuid.UUID, fn LoadFunc) (any, error) {
	if ownerFrom(ctx).id == id {
		return nil, assetErr("load", id, ErrCyclicReference)
	}

	v, err := c.call(withOwner(ctx, id, &call{}), fn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.trackLocked(v, tracking{id: id}); err != nil {
		return nil, assetErr("load", id, err)
	}

	c.metrics.inc("new-instance")

	return v, nil
}

// Invalidate drops the cached live asset for id, so the next GetOrLoad
// loads it again. A load in progress is detached and its result discarded.
func (c *Cache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	delete(c.inflight, id)

	if c.retain != nil {
		c.retain.Remove(id)
	}

	c.metrics.inc("invalidate")
}

// Peek returns the cached live asset for id without loading it.
func (c *Cache) Peek(id uuid.UUID) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.liveLocked(id)
	return v, v != nil
}

// Lookup returns what the cache knows about a live asset: the uuid it was
// loaded as, or that it is embedded.
func (c *Cache) Lookup(live any) (id uuid.UUID, embedded bool, ok bool) {
	t, err := c.reg.TypeOf(live)
	if err != nil {
		return uuid.Nil, false, false
	}

	h, valid := t.handle(live)
	if !valid {
		return uuid.Nil, false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tr, found := c.tracked[h.key]
	if !found {
		return uuid.Nil, false, false
	}

	return tr.id, tr.embedded, true
}

// MarkEmbedded records that live has no uuid of its own and is persisted
// inline in its parent.
func (c *Cache) MarkEmbedded(live any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.trackLocked(live, tracking{embedded: true})
	return err
}

// Len returns the number of cached live assets that have not been
// collected yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id := range c.entries {
		if c.liveLocked(id) != nil {
			n++
		}
	}

	return n
}

func (c *Cache) liveLocked(id uuid.UUID) any {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}

	v := e.value()
	if v == nil {
		delete(c.entries, id)
		return nil
	}

	if c.retain != nil {
		c.retain.Get(id)
	}

	return v
}

func (c *Cache) trackLocked(live any, t tracking) (handle, error) {
	typ, err := c.reg.TypeOf(live)
	if err != nil {
		return handle{}, fmt.Errorf("%w: %T", ErrUnregisteredLiveAsset, live)
	}

	h, ok := typ.handle(live)
	if !ok {
		return handle{}, fmt.Errorf("%w: %T", ErrUnregisteredLiveAsset, live)
	}

	t.typ = typ

	if _, exists := c.tracked[h.key]; exists {
		c.tracked[h.key] = &t
		return h, nil
	}

	c.tracked[h.key] = &t

	key := h.key
	h.onCollect(func() {
		c.collected(key)
	})

	return h, nil
}

func (c *Cache) collected(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tracked[key]
	if !ok {
		return
	}

	delete(c.tracked, key)

	if e, ok := c.entries[t.id]; ok && e.key == key {
		delete(c.entries, t.id)
	}

	c.metrics.inc("collected")
	c.log.Debug("live asset collected", "uuid", t.id, "type", t.typ.id, "embedded", t.embedded)
}

func (c *Cache) addWaitLocked(from, to *call) {
	m, ok := c.waits[from]
	if !ok {
		m = make(map[*call]int)
		c.waits[from] = m
	}
	m[to]++
}

func (c *Cache) removeWait(from, to *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.waits[from]
	if m[to]--; m[to] <= 0 {
		delete(m, to)
	}
	if len(m) == 0 {
		delete(c.waits, from)
	}
}

// reachesLocked reports whether the load of from is, directly or through
// other loads, waiting on the load of to.
func (c *Cache) reachesLocked(from, to *call) bool {
	seen := map[*call]bool{from: true}
	stack := []*call{from}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur == to {
			return true
		}

		for next := range c.waits[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}

	return false
}

type cacheMetrics struct {
	events *prometheus.CounterVec
}

func newCacheMetrics() *cacheMetrics {
	return &cacheMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "asset_cache",
			Name:      "events_total",
			Help:      "Live asset cache events by kind.",
		}, []string{"event"}),
	}
}

func (m *cacheMetrics) inc(event string) {
	m.events.WithLabelValues(event).Inc()
}
