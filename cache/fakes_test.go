package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/pawsitivecheck/querycache/storage"
	"github.com/pawsitivecheck/querycache/types"
)

// memoryStore is an in-memory Store. Deletes honour ctx like a network
// round trip would.
type memoryStore struct {
	mu         sync.Mutex
	records    map[string]*storage.Record
	failSet    error
	failDelete error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*storage.Record)}
}

func (m *memoryStore) Get(ctx context.Context, key types.QueryKey) (*storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key.Hash()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryStore) Set(ctx context.Context, rec *storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	cp := *rec
	m.records[rec.Key.Hash()] = &cp
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key types.QueryKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.records, key.Hash())
	return nil
}

func (m *memoryStore) DeleteMatching(ctx context.Context, pred types.Predicate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return 0, m.failDelete
	}
	n := 0
	for h, rec := range m.records {
		if pred.Match(rec.Key) {
			delete(m.records, h)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*storage.Record)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) has(key types.QueryKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key.Hash()]
	return ok
}

// busSync is a Synchronizer connecting caches in one process. Delivery is
// synchronous and skips the sender.
type busSync struct {
	bus       *bus
	podID     string
	callbacks []func(types.InvalidationEvent)
	published []types.InvalidationEvent
}

type bus struct {
	mu      sync.Mutex
	members []*busSync
}

func (b *bus) join(podID string) *busSync {
	s := &busSync{bus: b, podID: podID}
	b.mu.Lock()
	b.members = append(b.members, s)
	b.mu.Unlock()
	return s
}

func (s *busSync) Subscribe(ctx context.Context) error { return nil }

func (s *busSync) Publish(ctx context.Context, event types.InvalidationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.bus.mu.Lock()
	s.published = append(s.published, event)
	members := append([]*busSync(nil), s.bus.members...)
	s.bus.mu.Unlock()

	for _, m := range members {
		if m.podID == event.Sender {
			continue
		}
		for _, cb := range m.callbacks {
			cb(event)
		}
	}
	return nil
}

func (s *busSync) OnInvalidate(callback func(types.InvalidationEvent)) {
	s.callbacks = append(s.callbacks, callback)
}

func (s *busSync) Close() error { return nil }

// failingSync fails every publish.
type failingSync struct{}

func (failingSync) Subscribe(ctx context.Context) error { return nil }
func (failingSync) Publish(ctx context.Context, event types.InvalidationEvent) error {
	return errors.New("publish refused")
}
func (failingSync) OnInvalidate(func(types.InvalidationEvent)) {}
func (failingSync) Close() error                               { return nil }
