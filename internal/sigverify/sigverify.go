// Package sigverify checks guardian signatures against a guardian set.
package sigverify

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

var (
	ErrGuardianSetExpired = errors.New("guardian set expired")
	ErrQuorumNotMet       = errors.New("quorum not met")
	ErrIndicesNotSorted   = errors.New("guardian indices not in ascending order")
	ErrDuplicateSigner    = errors.New("duplicate guardian index")
	ErrSignatureMismatch  = errors.New("signature does not recover to guardian key")
	ErrSessionFinalized   = errors.New("verification session already finalized")
)

// Result is the all-or-nothing outcome of a successful verification: the
// set that signed and the validated guardian positions.
type Result struct {
	SetIndex uint32
	Indices  []int
}

// Verifier resolves guardian sets and checks signature batches against them.
type Verifier struct {
	registry *guardian.Registry
}

func New(registry *guardian.Registry) *Verifier {
	return &Verifier{registry: registry}
}

// Verify checks all signatures in one pass. vaaTime is the VAA's embedded
// timestamp, used for the expiry carve-out; now is the verification time.
func (v *Verifier) Verify(digest common.Hash, setIndex uint32, sigs []*vaa.Signature, vaaTime, now time.Time) (*Result, error) {
	s, err := v.Begin(digest, setIndex, vaaTime, now)
	if err != nil {
		return nil, err
	}
	if err := s.Add(sigs); err != nil {
		return nil, err
	}
	return s.Finalize()
}

// Session is an incremental verification: Begin resolves the set, Add
// consumes one or more ordered signature batches against the same digest,
// Finalize enforces quorum. It is behaviorally identical to Verify and
// exists for callers that must split work across multiple calls.
type Session struct {
	digest    common.Hash
	set       *guardian.Set
	indices   []int
	lastIndex int
	done      bool
}

// Begin resolves the guardian set and checks its expiry. A set whose
// expiration has passed is still usable for VAAs timestamped before the
// expiration; that carve-out keeps in-flight messages verifiable across a
// rotation.
func (v *Verifier) Begin(digest common.Hash, setIndex uint32, vaaTime, now time.Time) (*Session, error) {
	set, err := v.registry.Get(setIndex)
	if err != nil {
		return nil, err
	}
	if !set.ExpirationTime.IsZero() && now.After(set.ExpirationTime) && !vaaTime.Before(set.ExpirationTime) {
		return nil, fmt.Errorf("%w: set %d expired at %s", ErrGuardianSetExpired, setIndex, set.ExpirationTime.UTC())
	}
	return &Session{digest: digest, set: set, lastIndex: -1}, nil
}

// BeginWithSet starts a session against an explicitly supplied set, without
// consulting the registry. Used for the bootstrap path, where the signing
// set is carried inside the VAA being verified.
func BeginWithSet(digest common.Hash, set *guardian.Set) *Session {
	return &Session{digest: digest, set: set, lastIndex: -1}
}

// Add verifies a batch of signatures. Guardian indices must be strictly
// increasing across the whole session, not just within one batch.
func (s *Session) Add(sigs []*vaa.Signature) error {
	if s.done {
		return ErrSessionFinalized
	}
	for _, sig := range sigs {
		idx := int(sig.Index)
		if idx == s.lastIndex {
			return fmt.Errorf("%w: index %d", ErrDuplicateSigner, idx)
		}
		if idx < s.lastIndex {
			return fmt.Errorf("%w: index %d after %d", ErrIndicesNotSorted, idx, s.lastIndex)
		}
		if idx >= len(s.set.Keys) {
			return fmt.Errorf("%w: index %d out of range for set of %d", ErrSignatureMismatch, idx, len(s.set.Keys))
		}

		pub, err := ethcrypto.SigToPub(s.digest.Bytes(), sig.Signature[:])
		if err != nil {
			return fmt.Errorf("%w: index %d: recovery failed: %v", ErrSignatureMismatch, idx, err)
		}
		if ethcrypto.PubkeyToAddress(*pub) != s.set.Keys[idx] {
			return fmt.Errorf("%w: index %d", ErrSignatureMismatch, idx)
		}

		s.lastIndex = idx
		s.indices = append(s.indices, idx)
	}
	return nil
}

// Finalize enforces quorum over every signature seen so far and closes the
// session.
func (s *Session) Finalize() (*Result, error) {
	if s.done {
		return nil, ErrSessionFinalized
	}
	s.done = true
	if q := s.set.Quorum(); len(s.indices) < q {
		return nil, fmt.Errorf("%w: %d signatures, need %d of %d", ErrQuorumNotMet, len(s.indices), q, len(s.set.Keys))
	}
	return &Result{SetIndex: s.set.Index, Indices: s.indices}, nil
}
