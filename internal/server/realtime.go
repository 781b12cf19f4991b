package server

import (
	"context"
	"sync"

	"github.com/merigil/mythoria-sub000/internal/submissions"
)

const defaultRealtimeBufferSize = 16

var _ submissions.Notifier = (*RealtimeDispatcher)(nil)

// RealtimeDispatcher fans leaderboard updates out to every connected observer.
// Delivery is best effort: an observer whose buffer is full misses the event,
// and observers that subscribe later never see earlier events.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	closed      chan struct{}
	closeOnce   sync.Once
}

type realtimeSubscriber struct {
	id     int64
	stream chan submissions.LeaderboardUpdateEvent
}

// NewRealtimeDispatcher constructs a dispatcher with per-observer buffers of bufferSize events.
func NewRealtimeDispatcher(bufferSize int) *RealtimeDispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultRealtimeBufferSize
	}
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  bufferSize,
		closed:      make(chan struct{}),
	}
}

// Subscribe registers an observer until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan submissions.LeaderboardUpdateEvent, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan submissions.LeaderboardUpdateEvent, d.bufferSize),
	}
	d.registerSubscriber(subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-d.closed:
		}
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Broadcast implements submissions.Notifier. It never blocks.
func (d *RealtimeDispatcher) Broadcast(event submissions.LeaderboardUpdateEvent) {
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of registered observers.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// Close ends every open stream. Connections observe it through Done.
func (d *RealtimeDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
}

// Done is closed once Close has been called.
func (d *RealtimeDispatcher) Done() <-chan struct{} {
	return d.closed
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
