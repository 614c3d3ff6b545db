package trade

import (
	"context"
	"slices"
	"sync"
)

// accountLocks hands out one lock per account. Each lock is a buffered
// channel of size one so acquisition can give up when ctx is done.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]chan struct{})}
}

func (l *accountLocks) get(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[id] = ch
	}
	return ch
}

// acquire locks every id in ascending order and returns the matching
// release func. Duplicate ids are locked once. On ctx expiry the locks
// taken so far are released and ctx.Err() is returned.
func (l *accountLocks) acquire(ctx context.Context, ids ...int64) (func(), error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ordered {
		ch := l.get(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
