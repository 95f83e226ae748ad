package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerSerializesWriters(t *testing.T) {
	lm := NewLockManager(time.Minute, 10)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.WithLock("k", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 1, lm.Len())
}

func TestLockManagerCleanupKeepsBusyLocks(t *testing.T) {
	lm := NewLockManager(time.Nanosecond, 1)

	require.NoError(t, lm.WithReadLock("a", func() error { return nil }))
	require.NoError(t, lm.WithReadLock("b", func() error { return nil }))
	time.Sleep(time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.WithLock("busy", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	time.Sleep(time.Millisecond)

	assert.Equal(t, 2, lm.Cleanup())
	assert.Equal(t, 1, lm.Len())
	close(release)
}
