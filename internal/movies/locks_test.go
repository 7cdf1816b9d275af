package movies

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMovieLocksSerializeSameMovie(t *testing.T) {
	locks := NewMovieLocks()
	release := locks.Lock(1)

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock(1)
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestMovieLocksDoNotBlockOtherMovies(t *testing.T) {
	locks := NewMovieLocks()
	release := locks.Lock(1)
	defer release()

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock(2)
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock for a different movie was blocked")
	}
}

func TestMovieLocksConcurrentHoldersNeverOverlap(t *testing.T) {
	locks := NewMovieLocks()
	var inside [4]atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup
	for index := 0; index < 64; index++ {
		wg.Add(1)
		go func(movieID int64) {
			defer wg.Done()
			unlock := locks.Lock(movieID)
			if inside[movieID].Add(1) != 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			inside[movieID].Add(-1)
			unlock()
			unlock()
		}(int64(index % 4))
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Fatalf("expected exclusive holders per movie, saw %d overlaps", overlaps.Load())
	}
	for movieID := int64(0); movieID < 4; movieID++ {
		assertLockFree(t, locks, movieID)
	}
}

func assertLockFree(t *testing.T, locks *MovieLocks, movieID int64) {
	t.Helper()
	acquired := make(chan func(), 1)
	go func() {
		acquired <- locks.Lock(movieID)
	}()
	select {
	case unlock := <-acquired:
		unlock()
	case <-time.After(time.Second):
		t.Fatalf("lock for movie %d is still held", movieID)
	}
}
