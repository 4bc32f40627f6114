package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("script: runtime pool is closed")

// DefaultPoolSize bounds the number of runtimes a single script keeps alive.
const DefaultPoolSize = 8

// runtimePool hands out sandboxed runtimes. A goja.Runtime is not safe for
// concurrent use, so each execution holds one exclusively.
type runtimePool struct {
	idle    chan *goja.Runtime
	size    int
	created atomic.Int32
	mu      sync.Mutex
	closed  bool
}

func newRuntimePool(size int) *runtimePool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &runtimePool{
		idle: make(chan *goja.Runtime, size),
		size: size,
	}
}

// Acquire returns an idle runtime, creates one while under capacity, or
// waits until one is released.
func (p *runtimePool) Acquire(ctx context.Context) (*goja.Runtime, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case vm, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return vm, nil
	default:
	}

	if n := p.created.Add(1); int(n) <= p.size {
		vm, err := newSandboxedRuntime()
		if err != nil {
			p.created.Add(-1)
			return nil, fmt.Errorf("failed to create runtime: %w", err)
		}
		return vm, nil
	}
	p.created.Add(-1)

	select {
	case vm, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return vm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns vm to the pool. Runtimes released after Close are dropped.
func (p *runtimePool) Release(vm *goja.Runtime) {
	if vm == nil {
		return
	}
	vm.ClearInterrupt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.created.Add(-1)
		return
	}
	select {
	case p.idle <- vm:
	default:
		p.created.Add(-1)
	}
}

// Discard drops a runtime whose state can no longer be trusted.
func (p *runtimePool) Discard(vm *goja.Runtime) {
	if vm != nil {
		p.created.Add(-1)
	}
}

// Close drains the pool. It is safe to call more than once.
func (p *runtimePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.idle)
	for range p.idle {
		p.created.Add(-1)
	}
}

// Live reports the number of runtimes currently owned by the pool or its callers.
func (p *runtimePool) Live() int {
	return int(p.created.Load())
}
