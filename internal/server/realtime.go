package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventRatingChanged = "rating-changed"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "moviereviews-backend"
	realtimeBufferSize         = 16
)

// RatingEvent announces a recomputed average. A nil AverageRating means the
// movie has no reviews left.
type RatingEvent struct {
	MovieID       int64
	AverageRating *float64
	Timestamp     time.Time
}

// RealtimeDispatcher fans rating events out to stream subscribers. Slow
// subscribers drop events rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	now         func() time.Time
	closed      bool
}

type realtimeSubscriber struct {
	id      int64
	movieID int64
	stream  chan RatingEvent
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
		now:         time.Now,
	}
}

// Subscribe registers a stream for one movie, or for every movie when movieID
// is zero. The subscription ends when ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, movieID int64) (<-chan RatingEvent, func()) {
	subscriber := &realtimeSubscriber{
		movieID: movieID,
		stream:  make(chan RatingEvent, d.bufferSize),
	}
	if !d.registerSubscriber(subscriber) {
		close(subscriber.stream)
		return subscriber.stream, func() {}
	}
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(event RatingEvent) {
	if event.MovieID <= 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers {
		if subscriber.movieID != 0 && subscriber.movieID != event.MovieID {
			continue
		}
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Close ends every open stream. Later subscriptions receive a closed channel.
func (d *RealtimeDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, subscriber := range d.subscribers {
		close(subscriber.stream)
		delete(d.subscribers, id)
	}
}

// PublishRating satisfies movies.RatingPublisher.
func (d *RealtimeDispatcher) PublishRating(movieID int64, averageRating *float64) {
	var average *float64
	if averageRating != nil {
		value := *averageRating
		average = &value
	}
	d.Publish(RatingEvent{
		MovieID:       movieID,
		AverageRating: average,
		Timestamp:     d.now().UTC(),
	})
}

func (d *RealtimeDispatcher) subscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	return true
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
