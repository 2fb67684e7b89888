package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFundingLocksExclusive(t *testing.T) {
	locks := NewFundingLocks()

	assert.True(t, locks.TryAcquire("a"))
	assert.False(t, locks.TryAcquire("a"))
	assert.True(t, locks.TryAcquire("b"))

	locks.Release("a")
	assert.True(t, locks.TryAcquire("a"))
}

func TestFundingLocksReleaseUnheldIsNoop(t *testing.T) {
	locks := NewFundingLocks()
	locks.Release("never-held")
	assert.True(t, locks.TryAcquire("never-held"))
}

func TestFundingLocksSingleWinnerUnderContention(t *testing.T) {
	locks := NewFundingLocks()

	const contenders = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if locks.TryAcquire("hot") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, locks.Held("hot"))
	assert.Equal(t, 1, locks.InFlight())
}
