package movies

import (
	"strconv"
	"sync"

	"github.com/moby/locker"
)

// MovieLocks serializes rating work per movie id. Different movies never
// contend; entries are dropped once the last holder releases them.
type MovieLocks struct {
	locker *locker.Locker
}

// NewMovieLocks constructs an empty lock table.
func NewMovieLocks() *MovieLocks {
	return &MovieLocks{locker: locker.New()}
}

// Lock blocks until the movie's lock is held and returns the release function.
// Calling the release function more than once has no effect.
func (l *MovieLocks) Lock(movieID int64) func() {
	key := strconv.FormatInt(movieID, 10)
	l.locker.Lock(key)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = l.locker.Unlock(key)
		})
	}
}
