// Package download implements the async download manager: a bounded
// worker pool over a FIFO queue and an active set, with per-path
// single-flight de-duplication, cancellation, and shutdown draining.
package download

import (
	"container/list"
	"context"
	"sync"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// Status is the result QueueDownload / a completion reports.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCancelled
	StatusOk
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "InProgress"
	case StatusCancelled:
		return "Cancelled"
	case StatusOk:
		return "Ok"
	case StatusIOError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Task is one unit of fetch work.
type Task struct {
	VirtualPath      types.VirtualPath
	UpstreamLocation types.UpstreamLocation
	Policy           types.CachePolicy
	// Completion is invoked exactly once with the final status and (on
	// success) the fetched bytes. After a fetch it runs on a worker
	// goroutine; when QueueDownload returns StatusCancelled or
	// StatusInProgress, or Shutdown cancels a queued task, it runs
	// synchronously on that caller's goroutine. For
	// NeverCache tasks no fetch happens; Completion is invoked with
	// StatusOk and nil bytes.
	Completion func(status Status, data []byte, err error)
}

// Fetcher performs the actual upstream I/O for a task; production code
// wires this to an upstream.Reader.ReadAll, tests use a stub.
type Fetcher func(ctx context.Context, location types.UpstreamLocation) ([]byte, error)

// Manager is the worker-pool download manager. Exactly one fetch is ever
// in flight per virtual path (the single-flight invariant enforced by
// active-set membership).
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List // of *Task
	active   map[types.VirtualPath]struct{}
	shutdown bool

	fetch   Fetcher
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	onQueued    func(vp types.VirtualPath)
	onCompleted func(vp types.VirtualPath, status Status)
}

// New starts a Manager with threadCount workers (0 is accepted and
// yields no progress until Shutdown).
func New(threadCount int, fetch Fetcher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		queue:  list.New(),
		active: make(map[types.VirtualPath]struct{}),
		fetch:  fetch,
		ctx:    ctx,
		cancel: cancel,
	}
	m.cond = sync.NewCond(&m.mu)

	for i := 0; i < threadCount; i++ {
		m.workers.Add(1)
		go m.workerLoop()
	}
	return m
}

// SetHooks wires optional observation callbacks.
func (m *Manager) SetHooks(onQueued func(types.VirtualPath), onCompleted func(types.VirtualPath, Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQueued = onQueued
	m.onCompleted = onCompleted
}

// QueueDownload schedules a fetch:
//   - shutdown requested -> Cancelled, completion invoked synchronously.
//   - vp already active -> InProgress, completion invoked synchronously
//     (single-flight de-duplication; callers may treat this as "retry
//     later").
//   - otherwise -> enqueue, mark active, return Pending.
func (m *Manager) QueueDownload(task Task) Status {
	m.mu.Lock()

	if m.shutdown {
		m.mu.Unlock()
		task.Completion(StatusCancelled, nil, nil)
		return StatusCancelled
	}

	if _, inFlight := m.active[task.VirtualPath]; inFlight {
		m.mu.Unlock()
		task.Completion(StatusInProgress, nil, nil)
		return StatusInProgress
	}

	m.active[task.VirtualPath] = struct{}{}
	m.queue.PushBack(&task)
	if m.onQueued != nil {
		m.onQueued(task.VirtualPath)
	}
	m.cond.Signal()
	m.mu.Unlock()
	return StatusPending
}

// Cancel removes vp from the active set so future QueueDownload calls are
// no longer deduplicated. In-flight I/O already popped by a worker is
// not interrupted; that worker's completion still runs.
func (m *Manager) Cancel(vp types.VirtualPath) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, vp)
}

// PendingCount and ActiveCount expose the manager's queue depth
// atomically for metrics gauges.
func (m *Manager) PendingCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.queue.Len())
}

func (m *Manager) ActiveCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.active))
}

// Shutdown sets the shutdown flag, wakes all workers so they drain only
// the task already popped then exit, cancels every still-queued task's
// completion with Cancelled, and joins all workers before returning.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.workers.Wait()
		return
	}
	m.shutdown = true

	var drained []*Task
	for e := m.queue.Front(); e != nil; e = e.Next() {
		drained = append(drained, e.Value.(*Task))
	}
	m.queue.Init()
	for _, t := range drained {
		delete(m.active, t.VirtualPath)
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, t := range drained {
		t.Completion(StatusCancelled, nil, nil)
	}

	m.cancel()
	m.workers.Wait()
}

func (m *Manager) workerLoop() {
	defer m.workers.Done()
	for {
		m.mu.Lock()
		for m.queue.Len() == 0 && !m.shutdown {
			m.cond.Wait()
		}
		if m.queue.Len() == 0 {
			m.mu.Unlock()
			return
		}
		front := m.queue.Front()
		task := m.queue.Remove(front).(*Task)
		m.mu.Unlock()

		m.process(task)
	}
}

func (m *Manager) process(task *Task) {
	var status Status
	var data []byte
	var err error

	if task.Policy == types.NeverCache {
		status = StatusOk
	} else {
		data, err = m.fetch(m.ctx, task.UpstreamLocation)
		if err != nil {
			status = StatusIOError
		} else {
			status = StatusOk
		}
	}

	m.mu.Lock()
	delete(m.active, task.VirtualPath)
	m.mu.Unlock()

	if m.onCompleted != nil {
		m.onCompleted(task.VirtualPath, status)
	}
	task.Completion(status, data, err)
}
