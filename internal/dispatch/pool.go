package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/metrics"
)

// Pool is a channel-fed worker pool for delivery attempts. The event trigger
// and the admin force-retry path enqueue here so their callers never block on
// recipient I/O; the retry scheduler drives the dispatcher directly instead.
type Pool struct {
	dispatcher *Dispatcher
	queue      chan string
	workers    int
	logger     *logging.Logger

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewPool(dispatcher *Dispatcher, workers, queueSize int, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		dispatcher: dispatcher,
		queue:      make(chan string, queueSize),
		workers:    workers,
		logger:     logger,
	}
}

// Start launches the workers. They drain the queue until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-p.queue:
					metrics.SetDispatchQueueDepth(len(p.queue))
					if _, err := p.dispatcher.Attempt(ctx, id); err != nil && !errors.Is(err, ErrNotAttempted) {
						p.logger.WithContext(ctx).WithDelivery(id).WithError(err).Error("dispatch attempt errored")
					}
				}
			}
		}()
	}
}

// Enqueue hands a delivery to the workers without blocking. It reports false
// when the queue is full; the record stays pending and a later sweep rescues
// it, so at-least-once still holds.
func (p *Pool) Enqueue(id string) bool {
	select {
	case p.queue <- id:
		metrics.SetDispatchQueueDepth(len(p.queue))
		return true
	default:
		p.logger.Plain().WithDelivery(id).Warn("dispatch queue full, deferring to sweep")
		return false
	}
}

// Wait blocks until all workers have exited after their context is canceled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
