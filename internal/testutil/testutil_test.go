package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_Advances(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, time.Second)

	assert.Equal(t, DefaultStart, clock.Now())
	assert.Equal(t, DefaultStart.Add(time.Second), clock.Now())
	assert.Equal(t, 2, clock.Calls())
}

func TestDeterministicClock_Frozen(t *testing.T) {
	clock := NewDeterministicClock(DefaultStart, 0)
	assert.Equal(t, clock.Now(), clock.Now())
}

func TestSequenceIDs_UniqueUnderConcurrency(t *testing.T) {
	gen := NewSequenceIDs("")
	const workers, perWorker = 10, 50

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.True(t, seen["id-0001"])
}
