package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gezgintur/tour-booking/internal/repository"
)

func lockCount(t *lockTable) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func TestLockTableFreesIdleSlots(t *testing.T) {
	lt := newLockTable(50 * time.Millisecond)
	ctx := context.Background()

	release, err := lt.acquire(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lockCount(lt))

	release()
	assert.Equal(t, 0, lockCount(lt), "released lock must not linger in the table")

	// Re-acquiring after the slot was dropped works as before.
	release, err = lt.acquire(ctx, "bk-1")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, lockCount(lt))
}

func TestLockTableBoundedWait(t *testing.T) {
	lt := newLockTable(10 * time.Millisecond)
	ctx := context.Background()

	release, err := lt.acquire(ctx, "bk-1")
	require.NoError(t, err)

	_, err = lt.acquire(ctx, "bk-1")
	require.ErrorIs(t, err, repository.ErrTransient)
	// The contender's failed attempt must not free the held slot.
	assert.Equal(t, 1, lockCount(lt))

	release()
	assert.Equal(t, 0, lockCount(lt))
}

func TestLockTableMutualExclusion(t *testing.T) {
	lt := newLockTable(time.Second)
	ctx := context.Background()

	var inside, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lt.acquire(ctx, "bk-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > max {
				max = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "at most one holder per key at a time")
	assert.Equal(t, 0, lockCount(lt))
}
