package titan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-titan/logger"
)

// TaskFunc represents a function that performs a task within a goroutine managed by the TaskManager.
// It should return true to continue running the task, or false to stop the goroutine.
type TaskFunc func() bool

// TaskRecvFunc represents a receive task. buf is a read buffer owned by the goroutine and
// reused between calls. It should return true to continue running, or false to stop.
type TaskRecvFunc func(buf []byte) bool

// TaskCancelFunc is called when a goroutine managed by the TaskManager exits.
type TaskCancelFunc func()

// ErrTaskManagerStopped is returned when a task is started on a stopped TaskManager.
var ErrTaskManagerStopped = errors.New("titan: task manager already stopped")

// recvBufSize is the size of the buffer handed to receive tasks.
const recvBufSize = 4096

// TaskManager manages the lifecycle of the goroutines of a connection: the socket receiver,
// the event dispatcher and interval tasks such as the keep-alive.
//
// Interval tasks are driven by a clockwork.Clock so they can be advanced deterministically in tests.
//
// Example Usage:
//
//	taskMgr := titan.NewTaskManager(ctx, logger, clockwork.NewRealClock())
//
//	_ = taskMgr.StartInterval("keepalive", func() bool {
//	    // ... send keep-alive ...
//	    return true
//	}, 7*time.Minute, false)
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type TaskManager struct {
	pctx      context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    logger.Logger
	clock     clockwork.Clock
	count     atomic.Int32
	intervals *xsync.MapOf[string, *intervalTask]
	mu        sync.RWMutex // protect ctx and cancel
	taskMu    sync.RWMutex // protect task creation during Wait()
}

type intervalTask struct {
	ticker clockwork.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *intervalTask) stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// NewTaskManager creates a new TaskManager with ctx as the parent context.
// A nil clock selects the real clock.
func NewTaskManager(ctx context.Context, l logger.Logger, clock clockwork.Clock) *TaskManager {
	if l == nil {
		l = logger.GetLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	mgr := &TaskManager{
		pctx:      ctx,
		logger:    l,
		clock:     clock,
		intervals: xsync.NewMapOf[string, *intervalTask](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the currently running tasks. It is canceled by Stop.
func (mgr *TaskManager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine that runs taskFunc in a loop until it returns false or
// the manager is stopped.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartReceiver starts a receive loop. taskCancelFunc is called when the goroutine exits.
func (mgr *TaskManager) StartReceiver(name string, taskFunc TaskRecvFunc, taskCancelFunc TaskCancelFunc) error {
	mgr.logger.Debug("start receiver task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if taskCancelFunc != nil {
			defer taskCancelFunc()
		}

		buf := make([]byte, recvBufSize)
		mgr.runTaskLoop(name, func() bool {
			return taskFunc(buf)
		})
	})

	return starter.waitForStart()
}

// StartInterval starts a goroutine that executes taskFunc every interval, measured on the
// manager's clock, until taskFunc returns false, StopInterval is called or the manager stops.
// If runNow is true taskFunc is also executed once before the interval starts.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "run_now", runNow)

	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	task := &intervalTask{ticker: mgr.clock.NewTicker(interval), done: make(chan struct{})}
	if _, loaded := mgr.intervals.LoadOrStore(name, task); loaded {
		task.ticker.Stop()
		return fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		task.stop()
		// the entry may already be gone or replaced by a newer task with the same name
		mgr.intervals.Compute(name, func(cur *intervalTask, loaded bool) (*intervalTask, bool) {
			return cur, !loaded || cur == task
		})
	}

	if runNow && !mgr.callWithRecoverBool(name, taskFunc) {
		cleanup()
		mgr.logger.Debug("interval task terminated by first run", "name", name)
		return nil
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return err
	}

	starter.startTask(func() {
		defer cleanup()

		ctx := mgr.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-task.done:
				return
			case <-task.ticker.Chan():
				mgr.logger.Debug("execute interval func", "name", name)
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return err
	}

	return nil
}

// StopInterval stops the interval task with the given name. It does not wait for a
// running execution of the task function to finish.
func (mgr *TaskManager) StopInterval(name string) error {
	task, ok := mgr.intervals.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("interval task %s not found", name)
	}

	task.stop()

	return nil
}

// HasInterval reports whether an interval task with the given name is registered.
func (mgr *TaskManager) HasInterval(name string) bool {
	_, ok := mgr.intervals.Load(name)
	return ok
}

// Stop signals all running goroutines to terminate.
func (mgr *TaskManager) Stop() {
	mgr.intervals.Range(func(_ string, task *intervalTask) bool {
		if task != nil {
			task.stop()
		}
		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then re-arms the manager so tasks can be
// started again.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout is Wait bounded by timeout. It returns false if the goroutines did not
// terminate in time; the manager is not re-armed in that case.
func (mgr *TaskManager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mgr.Wait()
		return true
	case <-time.After(timeout):
		mgr.logger.Warn("timeout waiting for tasks", "timeout", timeout, "task_count", mgr.TaskCount())
		return false
	}
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *TaskManager) callWithRecoverBool(name string, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}

// taskStarter encapsulates common startup logic
type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan struct{}
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	select {
	case <-mgr.Context().Done():
		return nil, ErrTaskManagerStopped
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan struct{}),
	}, nil
}

func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)
	s.mgr.count.Add(1)

	go func() {
		defer s.mgr.wg.Done()
		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug(s.name+" task terminated", "task_count", s.mgr.TaskCount())
		}()

		close(s.started)
		taskBody()
	}()
}

func (s *taskStarter) waitForStart() error {
	select {
	case <-s.started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", s.name)
	}
}

// runTaskLoop runs a task function in a loop with context cancellation.
func (mgr *TaskManager) runTaskLoop(name string, taskFunc func() bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	ctx := mgr.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
