package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// TaskPool runs presence broadcasts and other fire-and-forget hub work
// on a bounded set of workers. Submit after Close (or with a full queue)
// returns false instead of silently spawning goroutines, which gives
// shutdown a deterministic contract: Close drains what was accepted and
// nothing else runs afterwards.
type TaskPool struct {
	log   *zap.Logger
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewTaskPool(workers, queueSize int, log *zap.Logger) *TaskPool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &TaskPool{
		log:   log.With(zap.String("component", "realtime.pool")),
		tasks: make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

func (p *TaskPool) Submit(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- fn:
		return true
	default:
		p.log.Warn("task queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks, runs everything already queued, and waits
// for the workers to finish.
func (p *TaskPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
