package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigma-2026/pdf2img/internal/errs"
)

func TestAcquire_AdmitsUpToMax(t *testing.T) {
	s := New(2, 10)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)
	p2, err := s.Acquire(context.Background())
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, 2, st.InFlight)
	assert.Equal(t, 0, st.QueueLen)

	p1.Release()
	p2.Release()
	assert.Equal(t, 0, s.Status().InFlight)
}

func TestAcquire_QueuesBeyondMax_FIFO(t *testing.T) {
	s := New(1, 10)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p, err := s.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			p.Release()
		}(i)
		time.Sleep(10 * time.Millisecond) // stable enqueue order
	}

	p1.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquire_QueueFull_FailsFast(t *testing.T) {
	s := New(1, 1)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = s.Acquire(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // let the waiter enqueue

	_, err = s.Acquire(context.Background())
	assert.True(t, errs.Is(err, errs.QueueFull))

	p1.Release()
	<-done
}

func TestAcquire_ContextAlreadyCancelled(t *testing.T) {
	s := New(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Acquire(ctx)
	assert.True(t, errs.Is(err, errs.Cancelled))
	assert.Equal(t, 0, s.Status().InFlight)
}

func TestAcquire_CancelWhileWaiting_DoesNotLeakSlot(t *testing.T) {
	s := New(1, 5)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	waitErrCh := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx)
		waitErrCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	waitErr := <-waitErrCh
	assert.True(t, errs.Is(waitErr, errs.Cancelled))

	p1.Release()

	p2, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Status().InFlight)
	p2.Release()
}

func TestAcquire_CancelRaceWithGrant_PassesSlotToNextWaiter(t *testing.T) {
	s := New(1, 5)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		p, err := s.Acquire(ctx)
		if err == nil {
			p.Release()
		}
		firstDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		p, err := s.Acquire(context.Background())
		if err == nil {
			p.Release()
		}
		secondDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// Release frees one slot; near-simultaneously cancel the first waiter so
	// either it wins the race for the slot or loses it to the cancel.
	p1.Release()
	cancel()

	<-firstDone
	secondErr := <-secondDone
	assert.NoError(t, secondErr)
	assert.Equal(t, 0, s.Status().InFlight)
}

func TestPermit_ReleaseIsIdempotent(t *testing.T) {
	s := New(1, 1)
	p, err := s.Acquire(context.Background())
	require.NoError(t, err)

	p.Release()
	p.Release()
	p.Release()

	assert.Equal(t, 0, s.Status().InFlight)
}

func TestAcquire_ConcurrentReleaseIsSafe(t *testing.T) {
	s := New(4, 100)
	var admitted int64

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Acquire(context.Background())
			if err != nil {
				return
			}
			atomic.AddInt64(&admitted, 1)
			time.Sleep(time.Millisecond)
			p.Release()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, admitted)
	assert.Equal(t, 0, s.Status().InFlight)
}
