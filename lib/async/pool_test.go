package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgersync/errs"
)

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	pool, err := NewPool(2, 8)
	require.NoError(t, err)
	defer pool.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), Task{Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	require.Equal(t, int32(5), ran.Load())
}

func TestPoolDeduplicatesInflightIDs(t *testing.T) {
	pool, err := NewPool(1, 8)
	require.NoError(t, err)
	defer pool.Close()

	release := make(chan struct{})
	var ran atomic.Int32
	blocker := Task{ID: "enrich:abc", Run: func(context.Context) error {
		ran.Add(1)
		<-release
		return nil
	}}
	require.NoError(t, pool.Submit(context.Background(), blocker))

	// Same ID while the first is running: silently dropped.
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(context.Background(), blocker))

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	require.Equal(t, int32(1), ran.Load())
}

func TestPoolAllowsResubmitAfterCompletion(t *testing.T) {
	pool, err := NewPool(1, 8)
	require.NoError(t, err)
	defer pool.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	task := Task{ID: "enrich:xyz", Run: func(context.Context) error {
		ran.Add(1)
		wg.Done()
		return nil
	}}

	wg.Add(1)
	require.NoError(t, pool.Submit(context.Background(), task))
	wg.Wait()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		_, inflight := pool.inflight[task.ID]
		return !inflight
	}, time.Second, 5*time.Millisecond)

	wg.Add(1)
	require.NoError(t, pool.Submit(context.Background(), task))
	wg.Wait()
	require.Equal(t, int32(2), ran.Load())
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	pool, err := NewPool(1, 4)
	require.NoError(t, err)
	defer pool.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	task := Task{
		ID:          "flaky",
		MaxAttempts: 3,
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	}
	require.NoError(t, pool.Submit(context.Background(), task))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("task did not succeed within retry budget")
	}
	require.Equal(t, int32(3), attempts.Load())
}

func TestPoolEnforcesAttemptTimeout(t *testing.T) {
	pool, err := NewPool(1, 4)
	require.NoError(t, err)
	defer pool.Close()

	observed := make(chan error, 1)
	task := Task{
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			observed <- ctx.Err()
			return ctx.Err()
		},
	}
	require.NoError(t, pool.Submit(context.Background(), task))

	select {
	case err := <-observed:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("attempt was not cancelled by its timeout")
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	pool, err := NewPool(1, 0)
	require.NoError(t, err)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), Task{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	err = pool.Submit(context.Background(), Task{Run: func(context.Context) error { return nil }})
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.KindUnavailable))
	close(release)
}

func TestPoolRecoversFromPanics(t *testing.T) {
	pool, err := NewPool(1, 4)
	require.NoError(t, err)
	defer pool.Close()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), Task{Run: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, pool.Submit(context.Background(), Task{Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panicking task")
	}
}

func TestNewPoolValidatesWorkers(t *testing.T) {
	_, err := NewPool(0, 4)
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.KindInvalid))
}

func TestSubmitRequiresRunFunc(t *testing.T) {
	pool, err := NewPool(1, 1)
	require.NoError(t, err)
	defer pool.Close()

	err = pool.Submit(context.Background(), Task{ID: "no-op"})
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.KindInvalid))
}

func TestSubmitAfterCloseFails(t *testing.T) {
	pool, err := NewPool(1, 1)
	require.NoError(t, err)
	pool.Close()

	err = pool.Submit(context.Background(), Task{Run: func(context.Context) error { return nil }})
	require.Error(t, err)
	require.True(t, errs.IsKind(err, errs.KindUnavailable))
}
