// Package guardian holds the versioned history of guardian sets.
package guardian

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownSet  = errors.New("unknown guardian set")
	ErrNotNextSet  = errors.New("guardian set index is not the successor of the latest set")
	ErrEmptySet    = errors.New("guardian set has no keys")
	ErrSetTooLarge = errors.New("guardian set exceeds maximum size")
)

const (
	// MaxKeys is the largest guardian set the signature encoding supports.
	MaxKeys = 19

	// GracePeriod is how long a superseded guardian set remains valid after
	// its successor activates, so VAAs signed just before a rotation stay
	// verifiable.
	GracePeriod = 24 * time.Hour
)

// Set is one versioned guardian set. ExpirationTime is zero until the next
// set activates, after which it is set exactly once.
type Set struct {
	Index          uint32
	Keys           []common.Address
	ExpirationTime time.Time
}

// Quorum returns the number of signatures needed to accept a VAA signed by
// this set: strictly more than two thirds of the keys.
func (s *Set) Quorum() int {
	return (len(s.Keys)*10/3)*2/10 + 1
}

// clone returns a snapshot safe to hand to callers.
func (s *Set) clone() *Set {
	keys := make([]common.Address, len(s.Keys))
	copy(keys, s.Keys)
	return &Set{Index: s.Index, Keys: keys, ExpirationTime: s.ExpirationTime}
}

// Registry is the append-only history of guardian sets. Superseded sets are
// retained forever for retroactive verification.
type Registry struct {
	mu          sync.RWMutex
	sets        map[uint32]*Set
	latest      uint32
	initialized bool
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[uint32]*Set)}
}

// Get returns a snapshot of the set at the given index. The snapshot is not
// invalidated by a concurrent Activate, so a verification in flight keeps
// the set it resolved.
func (r *Registry) Get(index uint32) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sets[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownSet, index)
	}
	return s.clone(), nil
}

// LatestIndex returns the highest activated index. The second return is
// false until the first set activates.
func (r *Registry) LatestIndex() (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.initialized
}

// Activate appends a new guardian set. The first activation may use index 0
// or 1; afterwards the index must be exactly latest+1. The previous latest
// set gets its expiration stamped at activationTime plus the grace period.
func (r *Registry) Activate(set *Set, activationTime time.Time) error {
	if len(set.Keys) == 0 {
		return ErrEmptySet
	}
	if len(set.Keys) > MaxKeys {
		return fmt.Errorf("%w: %d keys", ErrSetTooLarge, len(set.Keys))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		if set.Index > 1 {
			return fmt.Errorf("%w: bootstrap set must have index 0 or 1, got %d", ErrNotNextSet, set.Index)
		}
	} else {
		if set.Index != r.latest+1 {
			return fmt.Errorf("%w: got %d, latest is %d", ErrNotNextSet, set.Index, r.latest)
		}
		r.sets[r.latest].ExpirationTime = activationTime.Add(GracePeriod)
	}

	r.sets[set.Index] = set.clone()
	r.latest = set.Index
	r.initialized = true
	return nil
}
