package payment

import (
	"context"
	"sync"
)

// Tasks runs background work that must outlive the request that started it
// but not the visitor it belongs to.
type Tasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTasks(parent context.Context) *Tasks {
	ctx, cancel := context.WithCancel(parent)
	return &Tasks{ctx: ctx, cancel: cancel}
}

func (t *Tasks) Go(f func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		f(t.ctx)
	}()
}

// Wait blocks until every started task has returned.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// Stop cancels running tasks and waits for them.
func (t *Tasks) Stop() {
	t.cancel()
	t.wg.Wait()
}
