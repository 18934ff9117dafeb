package worker

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Loop is the body one worker goroutine runs until ctx ends.
type Loop func(ctx context.Context, id int)

// Pool runs a fixed number of long-lived worker loops.
type Pool struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	n      int
	log    *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

// Start launches the loops. A loop that panics is restarted.
func (p *Pool) Start(ctx context.Context, fn Loop) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for ctx.Err() == nil {
				p.run(ctx, id, fn)
			}
		}(i)
	}
	p.log.Info().Int("workers", p.n).Msg("worker pool started")
}

func (p *Pool) run(ctx context.Context, id int, fn Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker panicked, restarting")
		}
	}()
	fn(ctx, id)
}

// Stop cancels every loop and waits for them to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}
