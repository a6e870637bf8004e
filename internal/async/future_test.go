package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_Success(t *testing.T) {
	f := Go(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGo_Failure(t *testing.T) {
	boom := errors.New("boom")
	f := Go(context.Background(), func(context.Context) (string, error) {
		return "", boom
	})
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestWait_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := Go(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThen_UsesDispatcher(t *testing.T) {
	uiQueue := make(chan func(), 1)
	dispatch := func(fn func()) { uiQueue <- fn }

	f := Go(context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})

	var got int
	f.Then(dispatch, func(v int) { got = v }, func(error) { t.Fatal("unexpected failure") })

	select {
	case fn := <-uiQueue:
		assert.Equal(t, 0, got, "callback must not run before the UI thread drains it")
		fn()
	case <-time.After(time.Second):
		t.Fatal("continuation was never dispatched")
	}
	assert.Equal(t, 7, got)
}

func TestThen_FailureWithoutDispatcher(t *testing.T) {
	f := Resolved(0, errors.New("nope"))

	var gotErr error
	f.Then(nil, nil, func(err error) { gotErr = err })
	assert.EqualError(t, gotErr, "nope")
}

func TestOnComplete_AfterCompletion(t *testing.T) {
	f := Resolved("done", nil)
	<-f.Done()

	called := false
	f.OnComplete(func(v string, err error) {
		called = true
		assert.Equal(t, "done", v)
		assert.NoError(t, err)
	})
	assert.True(t, called)
}
