package signal

import (
	"context"
	"sync"
	"time"

	"flowtrader/internal/models"
)

// Runner drives one evaluation goroutine per instrument. Different
// instruments evaluate concurrently; within an instrument, a kick that
// arrives while an evaluation is in flight coalesces into a single follow-up
// run, so the engine always acts on the freshest snapshot and never queues
// stale work.
type Runner struct {
	engine *Engine
	out    chan *models.Signal
	now    func() time.Time

	mu      sync.Mutex
	kicks   map[string]chan struct{}
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewRunner creates a signal runner emitting on a buffered channel.
func NewRunner(engine *Engine) *Runner {
	return &Runner{
		engine: engine,
		out:    make(chan *models.Signal, 64),
		kicks:  make(map[string]chan struct{}),
		now:    time.Now,
	}
}

// Start binds the runner to a context. Workers exit when it is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	r.started = true
}

// Stop waits for all in-flight evaluations to finish and closes the signal
// channel. The context passed to Start must already be cancelled.
func (r *Runner) Stop() {
	r.wg.Wait()
	close(r.out)
}

// Signals returns the channel of emitted signals.
func (r *Runner) Signals() <-chan *models.Signal {
	return r.out
}

// Notify marks an instrument dirty after a snapshot update. The kick is
// dropped if one is already pending: evaluation is supersede-not-queue.
func (r *Runner) Notify(instrument string) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	kick, ok := r.kicks[instrument]
	if !ok {
		kick = make(chan struct{}, 1)
		r.kicks[instrument] = kick
		r.wg.Add(1)
		go r.worker(instrument, kick)
	}
	r.mu.Unlock()

	select {
	case kick <- struct{}{}:
	default:
	}
}

func (r *Runner) worker(instrument string, kick <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-kick:
		}

		sig := r.engine.Evaluate(instrument, r.now())
		if sig == nil {
			continue
		}
		select {
		case r.out <- sig:
		case <-r.ctx.Done():
			return
		}
	}
}
