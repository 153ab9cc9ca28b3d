package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/catsync/internal/ir"
)

// keyLock serializes read-transition-persist for one record key.
// refs is only touched inside MapOf.Compute, which holds the bucket lock.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockTable holds one mutex per record key currently in use.
// Entries are reference counted and removed when the last holder releases.
type lockTable struct {
	m *xsync.MapOf[ir.RecordKey, *keyLock]
}

func newLockTable() *lockTable {
	return &lockTable{m: xsync.NewMapOf[ir.RecordKey, *keyLock]()}
}

// lock acquires the locks of keys and returns a function releasing them.
//
// CRITICAL: keys must be sorted and deduplicated. Every caller acquiring
// in the same global order is what rules out deadlock between events
// that share records.
func (t *lockTable) lock(keys []ir.RecordKey) (unlock func()) {
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		l, _ := t.m.Compute(k, func(old *keyLock, loaded bool) (*keyLock, bool) {
			if !loaded {
				old = &keyLock{}
			}
			old.refs++
			return old, false
		})
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			t.m.Compute(keys[i], func(old *keyLock, loaded bool) (*keyLock, bool) {
				if !loaded {
					return nil, true
				}
				old.refs--
				return old, old.refs == 0
			})
		}
	}
}

// size returns the number of keys with a live lock entry.
func (t *lockTable) size() int {
	return t.m.Size()
}
