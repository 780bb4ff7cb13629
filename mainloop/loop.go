// Package mainloop is the single execution context that owns the bridge and
// all deliveries to the application layer.
package mainloop

import (
	"context"
	"sync"

	"github.com/K3das/sparkbridge/utils"
	"go.uber.org/zap"
)

type Task func(ctx context.Context)

type onLoopKeyType struct{}

// OnLoop reports whether ctx was handed to a task by a running Loop.
func OnLoop(ctx context.Context) bool {
	on, _ := ctx.Value(onLoopKeyType{}).(bool)
	return on
}

// Loop runs posted tasks one at a time, in order, on the goroutine that
// called Run. Post never blocks, so tasks may post follow-up tasks.
type Loop struct {
	log *zap.Logger

	mu    sync.Mutex
	queue []Task
	wake  chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(parentLogger *zap.Logger) *Loop {
	return &Loop{
		log:     parentLogger.Named("mainloop"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop. It may be called from any goroutine
// and returns false if the loop has stopped.
func (l *Loop) Post(fn Task) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes tasks until ctx is done. Tasks still queued at that point are
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	loopCtx := context.WithValue(ctx, onLoopKeyType{}, true)

	l.log.Info("main loop running")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("main loop stopping")
			return nil
		case <-l.wake:
		}

		for {
			if ctx.Err() != nil {
				break
			}
			task, ok := l.next()
			if !ok {
				break
			}
			l.execute(loopCtx, task)
		}
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) execute(ctx context.Context, task Task) {
	defer utils.PanicRecovery(l.log)
	task(ctx)
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
