package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunLoop_SerializesJobs(t *testing.T) {
	t.Parallel()

	l := newRunLoop(16)
	defer l.close()

	n := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, l.submit(func() { n++ }))
	}

	// call drains behind the submitted jobs, so n is settled when it returns.
	v, err := l.call(context.Background(), func() (any, error) { return n, nil })
	require.NoError(t, err)
	require.Equal(t, 10, v)
}

func TestRunLoop_CloseStopsGoroutineAndRejectsJobs(t *testing.T) {
	t.Parallel()

	l := newRunLoop(16)
	l.close()

	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop goroutine did not exit")
	}

	require.ErrorIs(t, l.submit(func() {}), ErrNotStarted)
	_, err := l.call(context.Background(), func() (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrNotStarted)

	// Idempotent.
	l.close()
}

func TestRunLoop_CallHonorsContext(t *testing.T) {
	t.Parallel()

	l := newRunLoop(16)
	defer l.close()

	release := make(chan struct{})
	require.NoError(t, l.submit(func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.call(ctx, func() (any, error) { return nil, nil })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestRunLoop_CloseUnblocksWaitingCall(t *testing.T) {
	t.Parallel()

	l := newRunLoop(16)

	release := make(chan struct{})
	require.NoError(t, l.submit(func() { <-release }))

	errCh := make(chan error, 1)
	go func() {
		_, err := l.call(context.Background(), func() (any, error) { return nil, nil })
		errCh <- err
	}()

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
		l.close()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			require.ErrorIs(t, err, ErrNotStarted)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call did not unblock on close")
	}
}
