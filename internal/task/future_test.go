package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolve(t *testing.T) {
	f := NewFuture[int]()
	f.Resolve(42)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future never completed")
	}

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, r.Value)
	assert.False(t, r.Cancelled)
}

func TestFutureRejectThenResolveIsNoop(t *testing.T) {
	f := NewFuture[string]()
	boom := errors.New("boom")
	f.Reject(boom)
	f.Resolve("too late")

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, boom, r.Err)
	assert.Empty(t, r.Value)
}

func TestFutureCancel(t *testing.T) {
	f := NewFuture[int]()
	f.Cancel()
	assert.True(t, f.Cancelled())

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Cancelled)
}

func TestFutureOnDoneFiresOnceRegisteredBeforeCompletion(t *testing.T) {
	f := NewFuture[int]()
	fired := make(chan Result[int], 1)
	f.OnDone(func(r Result[int]) { fired <- r })

	f.Resolve(7)

	select {
	case r := <-fired:
		assert.Equal(t, 7, r.Value)
	case <-time.After(time.Second):
		t.Fatal("OnDone callback never fired")
	}
}

func TestFutureOnDoneFiresSynchronouslyIfAlreadyTerminal(t *testing.T) {
	f := NewFuture[int]()
	f.Resolve(9)

	var got Result[int]
	f.OnDone(func(r Result[int]) { got = r })

	assert.Equal(t, 9, got.Value)
}

func TestFutureWaitRespectsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpawnResolves(t *testing.T) {
	f := Spawn(context.Background(), func(_ context.Context) (int, error) {
		return 5, nil
	})

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, r.Value)
}

func TestSpawnRejects(t *testing.T) {
	boom := errors.New("boom")
	f := Spawn(context.Background(), func(_ context.Context) (int, error) {
		return 0, boom
	})

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, boom, r.Err)
}

func TestSpawnCancelledContextYieldsCancelledFuture(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	f := Spawn(ctx, func(c context.Context) (int, error) {
		close(started)
		<-c.Done()
		return 0, c.Err()
	})

	<-started
	cancel()

	r, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Cancelled)
}
