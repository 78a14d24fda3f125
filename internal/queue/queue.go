package queue

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"realty/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// CollectionQueue fans collection-loaded events out to subscribers in publish order
type CollectionQueue struct {
	events   chan models.CollectionLoaded
	done     chan struct{}
	drained  chan struct{}
	maxSize  int
	closed   bool
	started  bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func(models.CollectionLoaded) error
}

// NewCollectionQueue creates a queue holding up to bufferSize undelivered events
func NewCollectionQueue(bufferSize int, logger *logrus.Logger) *CollectionQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &CollectionQueue{
		events:   make(chan models.CollectionLoaded, bufferSize),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(models.CollectionLoaded) error, 0),
	}
}

// Push enqueues one event without blocking
func (q *CollectionQueue) Push(event models.CollectionLoaded) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.events <- event:
		q.logger.WithFields(logrus.Fields{
			"count":     event.Count,
			"timestamp": event.Timestamp,
		}).Debug("Published collection event")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler called for every event pushed after Start
func (q *CollectionQueue) Subscribe(handler func(models.CollectionLoaded) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins delivering events. Calling it twice has no effect.
func (q *CollectionQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.process()
}

func (q *CollectionQueue) process() {
	defer close(q.drained)
	for {
		select {
		case <-q.done:
			// deliver whatever was accepted before Close
			for {
				select {
				case event := <-q.events:
					q.deliver(event)
				default:
					return
				}
			}
		case event := <-q.events:
			q.deliver(event)
		}
	}
}

func (q *CollectionQueue) deliver(event models.CollectionLoaded) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			q.logger.WithError(err).WithField("timestamp", event.Timestamp).Error("Handler failed to process collection event")
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (q *CollectionQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.done)
	q.mu.Unlock()

	if started {
		<-q.drained
	}
	return nil
}

// Len returns the number of undelivered events
func (q *CollectionQueue) Len() int {
	return len(q.events)
}

func (q *CollectionQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
