package vm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/continuations/errors"
)

// thread is one logical thread of execution: a top-level Invoke or one run
// of a continuation target, including nested host callbacks.
type thread struct {
	id    uint64
	depth int
}

var nextThreadID atomic.Uint64

type threadKey struct{}

// threadFrom returns the thread bound to ctx, binding a new one if needed.
func threadFrom(ctx context.Context) (context.Context, *thread) {
	if th, ok := ctx.Value(threadKey{}).(*thread); ok {
		return ctx, th
	}
	th := &thread{id: nextThreadID.Add(1)}
	return context.WithValue(ctx, threadKey{}, th), th
}

type monitor struct {
	owner *thread
	count int
}

// monitorTable implements reentrant per-object monitors.
type monitorTable struct {
	held map[any]*monitor
	cond *sync.Cond
	mu   sync.Mutex
}

func newMonitorTable() *monitorTable {
	t := &monitorTable{held: make(map[any]*monitor)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// enter acquires the monitor of key for th, waiting while another thread
// holds it. Waiting ends early if ctx is canceled.
func (t *monitorTable) enter(ctx context.Context, th *thread, key any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		m := t.held[key]
		if m == nil {
			t.held[key] = &monitor{owner: th, count: 1}
			return nil
		}
		if m.owner == th {
			m.count++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() {
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		})
		t.cond.Wait()
		stop()
	}
}

func (t *monitorTable) exit(th *thread, key any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.held[key]
	if m == nil || m.owner != th {
		return errors.New(errors.PhaseRuntime, errors.KindIllegalState).
			Detail("monitor exit by a thread that does not own it").
			Build()
	}
	m.count--
	if m.count == 0 {
		delete(t.held, key)
		t.cond.Broadcast()
	}
	return nil
}

// depth returns how many times th holds the monitor of key.
func (t *monitorTable) depth(th *thread, key any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.held[key]; m != nil && m.owner == th {
		return m.count
	}
	return 0
}
