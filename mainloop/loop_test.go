package mainloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoopTagsContext(t *testing.T) {
	l, _ := startLoop(t)

	assert.False(t, OnLoop(context.Background()))

	got := make(chan bool, 1)
	go func() {
		l.Post(func(ctx context.Context) {
			got <- OnLoop(ctx)
		})
	}()

	select {
	case on := <-got:
		assert.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func(ctx context.Context) {
		panic("boom")
	})

	done := make(chan struct{})
	l.Post(func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop died after panic")
	}
}

func TestLoopRejectsPostAfterStop(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		l.Run(ctx)
	}()

	cancel()
	<-runDone

	assert.False(t, l.Post(func(ctx context.Context) {}))
}

func TestLoopTaskCanPostFromLoop(t *testing.T) {
	l, _ := startLoop(t)

	done := make(chan int, 1)
	l.Post(func(ctx context.Context) {
		count := 0
		for i := 0; i < 1000; i++ {
			l.Post(func(ctx context.Context) {
				count++
				if count == 1000 {
					done <- count
				}
			})
		}
	})

	select {
	case n := <-done:
		assert.Equal(t, 1000, n)
	case <-time.After(5 * time.Second):
		t.Fatal("nested posts did not run")
	}
}
