package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pawsitivecheck/querycache/storage"
	cachesync "github.com/pawsitivecheck/querycache/sync"
	"github.com/pawsitivecheck/querycache/types"
)

// entry is the index record for one key. Data lives in the local cache under
// the key hash; the index owns staleness.
type entry struct {
	key        types.QueryKey
	fetchedAt  time.Time
	stale      bool
	generation uint64
	inflight   int
}

func (e *entry) hasData() bool {
	return !e.fetchedAt.IsZero()
}

// tombstone reports whether e must outlive its data: a stale key may still
// sit fresh in the remote store when the remote delete failed.
func (qc *QueryCache) tombstone(e *entry) bool {
	return e.stale && qc.store != nil
}

// QueryCache is a staleness-tracking query cache with an optional Redis
// second level and cross-instance invalidation.
type QueryCache struct {
	local        LocalCache
	store        Store
	synchronizer Synchronizer
	serializer   Marshaller
	logger       Logger
	options      Options
	now          func() time.Time
	group        singleflight.Group

	mu      sync.RWMutex
	seq     uint64
	entries map[string]*entry
	subs    map[string]map[*Subscription]struct{}

	closed int32
	stats  Stats
}

// New creates a new QueryCache. When opts.RedisAddr is set the cache
// connects to Redis for its remote store and invalidation channel.
func New(opts Options) (*QueryCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.RedisAddr == "" {
		return NewWithBackends(opts, nil, nil)
	}

	store, err := storage.NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.KeyPrefix)
	if err != nil {
		return nil, err
	}

	synchronizer := cachesync.NewPubSubSynchronizer(store.GetClient(), opts.InvalidationChannel, opts.PodID)

	qc, err := NewWithBackends(opts, store, synchronizer)
	if err != nil {
		synchronizer.Close()
		store.Close()
		return nil, err
	}
	return qc, nil
}

// NewWithBackends creates a QueryCache over the given remote store and
// synchronizer. Either may be nil.
func NewWithBackends(opts Options, store Store, synchronizer Synchronizer) (*QueryCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig.MaxSize)
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	qc := &QueryCache{
		local:        local,
		store:        store,
		synchronizer: synchronizer,
		serializer:   opts.Marshaller,
		logger:       opts.Logger,
		options:      opts,
		now:          time.Now,
		entries:      make(map[string]*entry),
		subs:         make(map[string]map[*Subscription]struct{}),
	}

	if n, ok := local.(EvictionNotifier); ok {
		n.OnEvict(qc.evicted)
	}

	if synchronizer != nil {
		synchronizer.OnInvalidate(qc.handleInvalidation)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := synchronizer.Subscribe(ctx); err != nil {
			local.Close()
			return nil, err
		}
	}

	return qc, nil
}

func (qc *QueryCache) isClosed() bool {
	return atomic.LoadInt32(&qc.closed) != 0
}

func (qc *QueryCache) expired(fetchedAt time.Time) bool {
	return qc.options.StaleTime > 0 && qc.now().Sub(fetchedAt) >= qc.options.StaleTime
}

var _ Cache = (*QueryCache)(nil)

// newEntry indexes key under h. Callers hold qc.mu.
func (qc *QueryCache) newEntry(h string, key types.QueryKey) *entry {
	e := &entry{key: key.Append()}
	qc.bump(e)
	qc.entries[h] = e
	return e
}

// bump moves e to a new generation. Generations come from one cache-wide
// sequence, so a recreated entry never reuses an old generation. Callers
// hold qc.mu.
func (qc *QueryCache) bump(e *entry) {
	qc.seq++
	e.generation = qc.seq
}

// Get returns the cached entry for key. Stale entries are returned with
// Stale set; callers decide whether to show them while refetching.
func (qc *QueryCache) Get(ctx context.Context, key types.QueryKey) (Entry, bool) {
	if qc.isClosed() {
		return Entry{}, false
	}

	h := key.Hash()

	qc.mu.RLock()
	e, indexed := qc.entries[h]
	var snap entry
	if indexed {
		snap = *e
	}
	qc.mu.RUnlock()

	if indexed && snap.hasData() {
		if data, found := qc.local.Get(h); found {
			atomic.AddInt64(&qc.stats.LocalHits, 1)
			return Entry{
				Key:       snap.key,
				Data:      data,
				FetchedAt: snap.fetchedAt,
				Stale:     snap.stale || qc.expired(snap.fetchedAt),
			}, true
		}
		if qc.options.DebugMode {
			qc.logger.Debug("Get: indexed key missing from local cache", "key", h)
		}
	}
	atomic.AddInt64(&qc.stats.LocalMisses, 1)

	if ent, ok := qc.getRemote(ctx, key, h); ok {
		return ent, true
	}

	if indexed && snap.hasData() {
		qc.forget(h)
	}
	return Entry{}, false
}

// getRemote loads key from the remote store and indexes it locally.
func (qc *QueryCache) getRemote(ctx context.Context, key types.QueryKey, h string) (Entry, bool) {
	if qc.store == nil {
		return Entry{}, false
	}

	rec, err := qc.store.Get(ctx, key)
	if err != nil {
		atomic.AddInt64(&qc.stats.RemoteMisses, 1)
		if !errors.Is(err, storage.ErrNotFound) {
			qc.reportError(fmt.Errorf("remote get %s: %w", h, err))
			return Entry{}, false
		}
		qc.dropTombstone(h)
		return Entry{}, false
	}

	var data any
	if err := qc.serializer.Unmarshal(rec.Data, &data); err != nil {
		atomic.AddInt64(&qc.stats.RemoteMisses, 1)
		qc.reportError(fmt.Errorf("decode %s: %w", h, err))
		return Entry{}, false
	}
	atomic.AddInt64(&qc.stats.RemoteHits, 1)

	qc.mu.Lock()
	e, ok := qc.entries[h]
	if !ok {
		e = qc.newEntry(h, key)
	}
	// An invalidation recorded locally wins over the remote copy.
	if e.stale {
		populate := !e.hasData()
		if populate {
			e.fetchedAt = rec.FetchedAt
		}
		qc.mu.Unlock()
		if populate {
			qc.local.Set(h, data, 1)
		}
		return Entry{Key: key, Data: data, FetchedAt: rec.FetchedAt, Stale: true}, true
	}
	e.fetchedAt = rec.FetchedAt
	e.stale = false
	qc.mu.Unlock()

	qc.local.Set(h, data, 1)
	if qc.options.DebugMode {
		qc.logger.Debug("Get: populated local cache from remote", "key", h)
	}

	return Entry{
		Key:       key,
		Data:      data,
		FetchedAt: rec.FetchedAt,
		Stale:     qc.expired(rec.FetchedAt),
	}, true
}

// evicted is called by the local cache when it drops a result. It runs
// outside qc.mu.
func (qc *QueryCache) evicted(h string) {
	qc.forget(h)
	if qc.options.DebugMode {
		qc.logger.Debug("Local cache dropped key", "key", h)
	}
}

// forget drops an index entry whose data is gone, unless a fetch still
// needs it to record invalidations or it is a stale tombstone.
func (qc *QueryCache) forget(h string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	e, ok := qc.entries[h]
	if !ok {
		return
	}
	if e.inflight > 0 || qc.tombstone(e) {
		e.fetchedAt = time.Time{}
		return
	}
	delete(qc.entries, h)
}

// dropTombstone forgets a key missing from both levels. The remote store
// has confirmed it is gone, so no tombstone is needed.
func (qc *QueryCache) dropTombstone(h string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	e, ok := qc.entries[h]
	if !ok {
		return
	}
	if e.inflight > 0 {
		e.fetchedAt = time.Time{}
		return
	}
	delete(qc.entries, h)
}

// Fetch returns fresh data for key. Missing or stale entries are refetched
// with fetch; concurrent callers for the same key share one fetch. A result
// whose fetch started before an invalidation is stored stale.
func (qc *QueryCache) Fetch(ctx context.Context, key types.QueryKey, fetch Fetcher) (any, error) {
	if qc.isClosed() {
		return nil, ErrCacheClosed
	}

	if ent, ok := qc.Get(ctx, key); ok && !ent.Stale {
		return ent.Data, nil
	}

	h := key.Hash()
	gen := qc.beginFetch(h, key)
	defer qc.endFetch(h)

	flight := h + "#" + strconv.FormatUint(gen, 10)
	ch := qc.group.DoChan(flight, func() (any, error) {
		atomic.AddInt64(&qc.stats.Fetches, 1)
		if qc.options.DebugMode {
			qc.logger.Debug("Fetch: fetching key", "key", h, "generation", gen)
		}

		data, err := qc.fetchWithRetry(context.WithoutCancel(ctx), key, fetch)
		if err != nil {
			atomic.AddInt64(&qc.stats.FetchErrors, 1)
			return nil, err
		}

		qc.storeResult(context.WithoutCancel(ctx), key, h, data, gen)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			atomic.AddInt64(&qc.stats.SharedFetches, 1)
		}
		return res.Val, res.Err
	}
}

// beginFetch registers a caller waiting on a fetch and returns the
// generation it observed. The placeholder entry lets invalidations that land mid-fetch
// bump the generation even for keys never fetched before.
func (qc *QueryCache) beginFetch(h string, key types.QueryKey) uint64 {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	e, ok := qc.entries[h]
	if !ok {
		e = qc.newEntry(h, key)
	}
	e.inflight++
	return e.generation
}

func (qc *QueryCache) endFetch(h string) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	e, ok := qc.entries[h]
	if !ok {
		return
	}
	e.inflight--
	if e.inflight <= 0 {
		e.inflight = 0
		if !e.hasData() && !qc.tombstone(e) {
			delete(qc.entries, h)
		}
	}
}

func (qc *QueryCache) fetchWithRetry(ctx context.Context, key types.QueryKey, fetch Fetcher) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= qc.options.RetryCount; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(qc.retryDelay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if qc.options.ContextTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, qc.options.ContextTimeout)
		}
		data, err := fetch(actx, key)
		cancel()

		if err == nil {
			return data, nil
		}
		lastErr = err

		if qc.options.ShouldRetry != nil && !qc.options.ShouldRetry(err) {
			break
		}
		if qc.options.DebugMode && attempt < qc.options.RetryCount {
			qc.logger.Warn("Fetch: attempt failed, retrying", "key", key.Hash(), "attempt", attempt+1, "error", err)
		}
	}

	return nil, lastErr
}

func (qc *QueryCache) retryDelay(attempt int) time.Duration {
	d := qc.options.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if qc.options.MaxRetryDelay > 0 && d >= qc.options.MaxRetryDelay {
			return qc.options.MaxRetryDelay
		}
	}
	if qc.options.MaxRetryDelay > 0 && d > qc.options.MaxRetryDelay {
		return qc.options.MaxRetryDelay
	}
	return d
}

// storeResult records fetched data. If the generation moved while the
// fetch was in flight, the data is kept only when nothing fresher exists,
// and it stays stale.
func (qc *QueryCache) storeResult(ctx context.Context, key types.QueryKey, h string, data any, gen uint64) {
	now := qc.now()

	qc.mu.Lock()
	e, ok := qc.entries[h]
	if !ok {
		// Every waiter gave up and the placeholder is gone, so
		// invalidations may have been missed.
		e = qc.newEntry(h, key)
	}
	fresh := e.generation == gen
	if !fresh && e.hasData() && !e.stale {
		qc.mu.Unlock()
		if qc.options.DebugMode {
			qc.logger.Debug("Fetch: discarded result superseded by newer data", "key", h)
		}
		return
	}
	e.fetchedAt = now
	e.stale = !fresh
	qc.mu.Unlock()

	qc.local.Set(h, data, 1)

	if !fresh {
		if qc.options.DebugMode {
			qc.logger.Debug("Fetch: key invalidated during fetch, stored stale", "key", h)
		}
		return
	}

	qc.writeRemote(ctx, key, data, now)
}

func (qc *QueryCache) writeRemote(ctx context.Context, key types.QueryKey, data any, fetchedAt time.Time) error {
	if qc.store == nil {
		return nil
	}

	raw, err := qc.serializer.Marshal(data)
	if err != nil {
		qc.reportError(fmt.Errorf("encode %s: %w", key, err))
		return err
	}

	rec := &storage.Record{Key: key, Data: json.RawMessage(raw), FetchedAt: fetchedAt.UTC()}
	if err := qc.store.Set(ctx, rec); err != nil {
		qc.reportError(fmt.Errorf("remote set %s: %w", key, err))
		return err
	}
	return nil
}

// Set stores fresh data for key, superseding any in-flight fetch.
func (qc *QueryCache) Set(ctx context.Context, key types.QueryKey, data any) error {
	if qc.isClosed() {
		return ErrCacheClosed
	}

	h := key.Hash()
	now := qc.now()

	qc.mu.Lock()
	e, ok := qc.entries[h]
	if !ok {
		e = qc.newEntry(h, key)
	}
	qc.bump(e)
	e.fetchedAt = now
	e.stale = false
	qc.mu.Unlock()

	qc.local.Set(h, data, 1)
	if qc.options.DebugMode {
		qc.logger.Debug("Set: stored in local cache", "key", h)
	}

	return qc.writeRemote(ctx, key, data, now)
}

// InvalidateExact marks key stale locally, drops it from the remote store
// and tells other instances. Unknown keys are a no-op locally. The remote
// delete and the broadcast ignore cancellation of ctx.
func (qc *QueryCache) InvalidateExact(ctx context.Context, key types.QueryKey) {
	if qc.isClosed() {
		return
	}
	ctx = context.WithoutCancel(ctx)

	n := qc.markStale(types.PredicateFunc(key.Equal), key.Hash())
	if qc.options.DebugMode {
		qc.logger.Debug("Invalidate: exact", "key", key.Hash(), "matched", n)
	}

	if qc.store != nil {
		if err := qc.store.Delete(ctx, key); err != nil {
			qc.reportError(fmt.Errorf("remote delete %s: %w", key, err))
		}
	}

	qc.publish(ctx, InvalidationEvent{Key: key, Action: ActionInvalidate})
}

// InvalidateByPredicate marks every matching key stale. MatchRule
// predicates are also sent to other instances; other predicates only
// affect this instance and the remote store.
func (qc *QueryCache) InvalidateByPredicate(ctx context.Context, pred types.Predicate) {
	if qc.isClosed() || pred == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	n := qc.markStale(pred, "")
	if qc.options.DebugMode {
		qc.logger.Debug("Invalidate: predicate", "predicate", fmt.Sprintf("%+v", pred), "matched", n)
	}

	if qc.store != nil {
		if _, err := qc.store.DeleteMatching(ctx, pred); err != nil {
			qc.reportError(fmt.Errorf("remote delete matching: %w", err))
		}
	}

	var rule *types.MatchRule
	switch r := pred.(type) {
	case types.MatchRule:
		rule = &r
	case *types.MatchRule:
		rule = r
	}
	if rule == nil {
		if qc.options.DebugMode && qc.synchronizer != nil {
			qc.logger.Debug("Invalidate: predicate is not serializable, not propagated")
		}
		return
	}

	qc.publish(ctx, InvalidationEvent{Rule: rule, Action: ActionInvalidateMatch})
}

// markStale flags matching entries and notifies their subscribers. When
// exact is non-empty only that hash is considered.
func (qc *QueryCache) markStale(pred types.Predicate, exact string) int {
	var notify []*Subscription

	qc.mu.Lock()
	mark := func(h string, e *entry) {
		e.stale = true
		qc.bump(e)
		for s := range qc.subs[h] {
			notify = append(notify, s)
		}
	}

	n := 0
	if exact != "" {
		if e, ok := qc.entries[exact]; ok {
			mark(exact, e)
			n++
		}
	} else {
		for h, e := range qc.entries {
			if pred.Match(e.key) {
				mark(h, e)
				n++
			}
		}
	}
	qc.mu.Unlock()

	atomic.AddInt64(&qc.stats.Invalidations, int64(n))
	for _, s := range notify {
		s.notify()
	}
	return n
}

// Remove evicts key from local and remote storage.
func (qc *QueryCache) Remove(ctx context.Context, key types.QueryKey) error {
	if qc.isClosed() {
		return ErrCacheClosed
	}

	qc.removeLocal(key.Hash())

	if qc.store != nil {
		if err := qc.store.Delete(ctx, key); err != nil {
			qc.reportError(err)
			return err
		}
	}

	qc.publish(ctx, InvalidationEvent{Key: key, Action: ActionRemove})
	return nil
}

func (qc *QueryCache) removeLocal(h string) {
	qc.mu.Lock()
	if e, ok := qc.entries[h]; ok {
		if e.inflight > 0 {
			e.fetchedAt = time.Time{}
			qc.bump(e)
		} else {
			delete(qc.entries, h)
		}
	}
	qc.mu.Unlock()
	qc.local.Delete(h)
}

// Clear evicts every key from local and remote storage.
func (qc *QueryCache) Clear(ctx context.Context) error {
	if qc.isClosed() {
		return ErrCacheClosed
	}

	qc.clearLocal()
	if qc.options.DebugMode {
		qc.logger.Debug("Clear: cleared local cache")
	}

	if qc.store != nil {
		if err := qc.store.Clear(ctx); err != nil {
			qc.reportError(err)
			return err
		}
	}

	qc.publish(ctx, InvalidationEvent{Action: ActionClear})
	return nil
}

func (qc *QueryCache) clearLocal() {
	qc.mu.Lock()
	for h, e := range qc.entries {
		if e.inflight > 0 {
			e.fetchedAt = time.Time{}
			qc.bump(e)
			continue
		}
		delete(qc.entries, h)
	}
	qc.mu.Unlock()
	qc.local.Clear()
}

// Subscribe registers an active subscriber for key.
func (qc *QueryCache) Subscribe(key types.QueryKey) *Subscription {
	c := make(chan struct{}, 1)
	s := &Subscription{
		C:     c,
		key:   key.Append(),
		hash:  key.Hash(),
		c:     c,
		cache: qc,
	}

	qc.mu.Lock()
	set, ok := qc.subs[s.hash]
	if !ok {
		set = make(map[*Subscription]struct{})
		qc.subs[s.hash] = set
	}
	set[s] = struct{}{}
	qc.mu.Unlock()

	return s
}

func (qc *QueryCache) unsubscribe(s *Subscription) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	set := qc.subs[s.hash]
	delete(set, s)
	if len(set) == 0 {
		delete(qc.subs, s.hash)
	}
}

// Keys returns the keys that currently hold data, ordered by hash.
func (qc *QueryCache) Keys() []types.QueryKey {
	qc.mu.RLock()
	hashes := make([]string, 0, len(qc.entries))
	for h, e := range qc.entries {
		if e.hasData() {
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)
	keys := make([]types.QueryKey, len(hashes))
	for i, h := range hashes {
		keys[i] = qc.entries[h].key
	}
	qc.mu.RUnlock()
	return keys
}

// Close closes the cache and releases all resources.
func (qc *QueryCache) Close() error {
	if !atomic.CompareAndSwapInt32(&qc.closed, 0, 1) {
		return nil
	}

	var errs []error

	if qc.synchronizer != nil {
		if err := qc.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if qc.store != nil {
		if err := qc.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	qc.local.Close()

	return errors.Join(errs...)
}

// Stats returns cache statistics.
func (qc *QueryCache) Stats() Stats {
	qc.mu.RLock()
	var n int64
	for _, e := range qc.entries {
		if e.hasData() {
			n++
		}
	}
	qc.mu.RUnlock()

	return Stats{
		LocalHits:     atomic.LoadInt64(&qc.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&qc.stats.LocalMisses),
		RemoteHits:    atomic.LoadInt64(&qc.stats.RemoteHits),
		RemoteMisses:  atomic.LoadInt64(&qc.stats.RemoteMisses),
		Fetches:       atomic.LoadInt64(&qc.stats.Fetches),
		FetchErrors:   atomic.LoadInt64(&qc.stats.FetchErrors),
		SharedFetches: atomic.LoadInt64(&qc.stats.SharedFetches),
		Invalidations: atomic.LoadInt64(&qc.stats.Invalidations),
		Entries:       n,
	}
}

func (qc *QueryCache) publish(ctx context.Context, event InvalidationEvent) {
	if qc.synchronizer == nil {
		return
	}

	event.Sender = qc.options.PodID
	if err := qc.synchronizer.Publish(ctx, event); err != nil {
		qc.reportError(fmt.Errorf("publish %s: %w", event.Action, err))
		if qc.options.DebugMode {
			qc.logger.Warn("Sync: failed to publish event", "action", event.Action, "error", err)
		}
	} else if qc.options.DebugMode {
		qc.logger.Debug("Sync: published event", "action", event.Action, "key", event.Key.Hash())
	}
}

// handleInvalidation applies an event from another instance to the local
// index only.
func (qc *QueryCache) handleInvalidation(event InvalidationEvent) {
	if qc.isClosed() {
		return
	}

	if qc.options.DebugMode {
		qc.logger.Info("Received invalidation event", "action", event.Action, "key", event.Key.Hash(), "sender", event.Sender)
	}

	switch event.Action {
	case ActionInvalidate:
		qc.markStale(types.PredicateFunc(event.Key.Equal), event.Key.Hash())

	case ActionInvalidateMatch:
		if event.Rule != nil {
			qc.markStale(*event.Rule, "")
		}

	case ActionRemove:
		qc.removeLocal(event.Key.Hash())

	case ActionClear:
		qc.clearLocal()

	default:
		if qc.options.DebugMode {
			qc.logger.Warn("Sync: unknown action", "action", event.Action, "sender", event.Sender)
		}
	}
}

func (qc *QueryCache) reportError(err error) {
	if qc.options.OnError != nil {
		qc.options.OnError(err)
	}
	if qc.options.DebugMode {
		qc.logger.Error("Background operation failed", "error", err)
	}
}

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = NewError("cache is closed")
