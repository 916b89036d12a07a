package state

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// testEnv returns an environment with an unbuffered dispatch channel and no running loop
func testEnv(t *testing.T) (*State, chan func(*State) error, context.CancelCauseFunc) {
	t.Helper()
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() { cancel(nil) })
	ch := make(chan func(*State) error)
	return &State{Env: &Env{DispatchChannel: ch, Context: ctx, Cancel: cancel}}, ch, cancel
}

// runLoop executes dispatched functions until the context ends
func runLoop(s *State, ch chan func(*State) error) {
	for {
		select {
		case fn := <-ch:
			_ = fn(s)
		case <-s.Context.Done():
			return
		}
	}
}

func TestDispatchWaitReturnsResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, ch, cancel := testEnv(t)
	go runLoop(s, ch)
	defer cancel(nil)

	res, err := s.DispatchWait(func(*State) (any, error) {
		return SwitchId(42), nil
	})
	require.NoError(t, err)
	assert.Equal(t, SwitchId(42), res)

	_, err = s.DispatchWait(func(*State) (any, error) {
		return nil, errors.New("no such switch")
	})
	assert.EqualError(t, err, "no such switch")
}

func TestDispatchAfterCancelDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _, cancel := testEnv(t)
	cancel(errors.New("main loop stopped"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Dispatch(func(*State) error { return nil })
		_, err := s.DispatchWait(func(*State) (any, error) { return nil, nil })
		assert.Error(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked after the context was cancelled")
	}
}

func TestDispatchUnblocksOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, _, cancel := testEnv(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// nobody reads the channel, so this waits until the cancel below
		s.Dispatch(func(*State) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel(errors.New("shutting down"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not observe the cancellation")
	}
}

func TestScheduleTaskWaitsForDelay(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, ch, cancel := testEnv(t)
	go runLoop(s, ch)
	defer cancel(nil)

	var ran atomic.Int64
	start := time.Now()
	s.ScheduleTask(func(*State) error {
		ran.Store(int64(time.Since(start)))
		return nil
	}, 100*time.Millisecond)

	require.Eventually(t, func() bool { return ran.Load() != 0 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(ran.Load()), 100*time.Millisecond)
}

func TestRepeatTaskStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, ch, cancel := testEnv(t)
	go runLoop(s, ch)

	var count atomic.Int32
	s.RepeatTask(func(*State) error {
		count.Add(1)
		return nil
	}, 10*time.Millisecond)

	require.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel(nil)
	time.Sleep(50 * time.Millisecond)
	n := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, count.Load())
}
