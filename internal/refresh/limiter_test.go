package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func Test_Limiter_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	returnCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			returnCh <- struct{}{}
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < count; i++ {
		<-returnCh
	}

	limiter.StopWait()
}

func Test_Limiter_Run_limits(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(3)

	returnCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			<-returnCh
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// add another func exceeding concurrency limit of 3
	err := limiter.Dispatch(func() {
		t.Error("expected limiter to limit concurrency")
	})

	assert.ErrorIs(t, err, ErrLimiterConcurrency)

	// unblock routines
	for i := 0; i < count; i++ {
		returnCh <- struct{}{}
	}

	limiter.StopWait()
}

func Test_Limiter_Active(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	// release causes the job to return
	releaseCh := make(chan struct{})

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			<-releaseCh
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// test active jobs are as expected
	assert.Equal(t, count, limiter.ActiveCount())

	for i := 0; i < count; i++ {
		// cause job to return
		releaseCh <- struct{}{}
	}

	limiter.StopWait()

	assert.Equal(t, 0, limiter.ActiveCount())
}

func Test_Limiter_StopWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewLimiter(5)

	returnCh := make(chan struct{}, 3)

	count := 3
	for i := 0; i < count; i++ {
		err := limiter.Dispatch(func() {
			time.Sleep(100 * time.Millisecond)
			returnCh <- struct{}{}
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	stopped := make(chan struct{})

	go func() {
		limiter.StopWait()
		close(stopped)
	}()

	// wait for the drain flag to be set
	assert.Eventually(t, func() bool {
		return limiter.Dispatch(func() {}) == ErrLimiterDrain
	}, time.Second, 5*time.Millisecond)

	<-stopped

	// StopWait returned only once all routines completed
	assert.Len(t, returnCh, count)
}
