package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pawsitivecheck/querycache/types"
	"github.com/redis/go-redis/v9"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// PubSubSynchronizer fans invalidation events out to every instance
// subscribed to the same Redis channel.
type PubSubSynchronizer struct {
	client         *redis.Client
	channel        string
	podID          string
	pubsub         *redis.PubSub
	callbacks      []func(event InvalidationEvent)
	callbacksMutex sync.RWMutex
	done           chan struct{}
	closeOnce      sync.Once
	wg             sync.WaitGroup

	received int64
	dropped  int64
}

// ErrInvalidEvent is returned by Publish for events other instances could
// not apply.
var ErrInvalidEvent = errors.New("invalid invalidation event")

// validEvent reports whether event carries what its action needs.
func validEvent(event InvalidationEvent) bool {
	switch event.Action {
	case types.Invalidate, types.Remove:
		return len(event.Key) > 0
	case types.InvalidateMatch:
		return event.Rule != nil && event.Rule.Kind != ""
	case types.Clear:
		return true
	default:
		return false
	}
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer.
func NewPubSubSynchronizer(client *redis.Client, channel, podID string) *PubSubSynchronizer {
	return &PubSubSynchronizer{
		client:    client,
		channel:   channel,
		podID:     podID,
		callbacks: make([]func(event InvalidationEvent), 0),
		done:      make(chan struct{}),
	}
}

// Subscribe starts listening for invalidation events. It waits for the
// subscription to be confirmed so no event published afterwards is missed.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	ps.pubsub = ps.client.Subscribe(ctx, ps.channel)
	if _, err := ps.pubsub.Receive(ctx); err != nil {
		ps.pubsub.Close()
		ps.pubsub = nil
		return fmt.Errorf("subscribe %s: %w", ps.channel, err)
	}

	ps.wg.Add(1)
	go ps.listenForEvents()

	return nil
}

// Publish publishes an invalidation event.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	if !validEvent(event) {
		return fmt.Errorf("%w: action %q", ErrInvalidEvent, event.Action)
	}
	if event.Sender == "" {
		event.Sender = ps.podID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ps.client.Publish(ctx, ps.channel, string(data)).Err()
}

// OnInvalidate registers a callback for invalidation events.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Counters returns how many peer events were delivered to callbacks and how
// many malformed messages were dropped.
func (ps *PubSubSynchronizer) Counters() (received, dropped int64) {
	return atomic.LoadInt64(&ps.received), atomic.LoadInt64(&ps.dropped)
}

// Close stops the listener and closes the subscription. It is safe to call
// more than once.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

// listenForEvents listens for invalidation events from Redis Pub/Sub.
func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	if ps.pubsub == nil {
		return
	}

	ch := ps.pubsub.Channel()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}

			var event InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || !validEvent(event) {
				atomic.AddInt64(&ps.dropped, 1)
				continue
			}

			// Our own invalidations were applied before publishing.
			if event.Sender == ps.podID {
				continue
			}
			atomic.AddInt64(&ps.received, 1)

			ps.callbacksMutex.RLock()
			callbacks := ps.callbacks
			ps.callbacksMutex.RUnlock()

			for _, callback := range callbacks {
				callback(event)
			}
		}
	}
}
