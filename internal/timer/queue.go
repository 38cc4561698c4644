package timer

import (
	"context"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
)

// DefaultQueueSize is the buffer used when NewQueue is given size <= 0.
const DefaultQueueSize = 64

// Queue moves slow consumers (storage, audio, scripts) off the dispatch path.
// Enqueue never blocks: when the buffer is full the event is dropped, logged
// and counted.
type Queue struct {
	name    string
	events  chan Event
	fn      Handler
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewQueue creates a Queue that feeds fn from its own goroutine once Run is
// called.
//
// Precondition: name non-empty; fn and logger non-nil.
func NewQueue(name string, size int, fn Handler, logger *zap.Logger, metrics *observability.Metrics) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		name:    name,
		events:  make(chan Event, size),
		fn:      fn,
		logger:  logger.With(zap.String("queue", name)),
		metrics: metrics,
	}
}

// Enqueue satisfies Handler so a Queue can be passed straight to Subscribe.
func (q *Queue) Enqueue(ev Event) error {
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("queue full, dropping event", zap.String("kind", string(ev.Kind())))
		q.metrics.QueueDrop(q.name)
	}
	return nil
}

// Run processes queued events until ctx is cancelled, then drains whatever
// is still buffered.
//
// Postcondition: Returns nil after ctx is done and the buffer is empty.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-q.events:
			q.handle(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-q.events:
					q.handle(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued handler panic",
				zap.String("kind", string(ev.Kind())),
				zap.Any("panic", r),
			)
			q.metrics.HandlerError(string(ev.Kind()))
		}
	}()
	if err := q.fn(ev); err != nil {
		q.logger.Warn("queued handler failed",
			zap.String("kind", string(ev.Kind())),
			zap.Error(err),
		)
		q.metrics.HandlerError(string(ev.Kind()))
	}
}
