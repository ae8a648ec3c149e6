// Package replay tracks which messages have already been consumed.
package replay

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wormhole-demo/verifier/internal/vaa"
)

// ErrAlreadyProcessed is the terminal no-op outcome: the key was consumed
// by an earlier submission. Callers treat it as "already handled", not as a
// fault.
var ErrAlreadyProcessed = errors.New("message already processed")

// Key identifies one message for replay purposes.
type Key struct {
	Chain    uint16
	Emitter  vaa.Address
	Sequence uint64
}

// Storage returns the canonical hashed storage form of the key.
func (k Key) Storage() common.Hash {
	return vaa.ReplayKeyOf(k.Chain, k.Emitter, k.Sequence)
}

// Ledger is the dedup gate. CheckAndMark is a compare-and-set: for any key
// it returns nil exactly once, and ErrAlreadyProcessed on every later call,
// permanently, even under concurrent submission of the same key. Contains
// is a read-only lookup for callers that must detect duplicates before
// running further checks; it never marks.
type Ledger interface {
	CheckAndMark(ctx context.Context, key Key) error
	Contains(ctx context.Context, key Key) (bool, error)
}

// MemoryLedger is a sparse in-process ledger keyed by the hashed storage key.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[common.Hash]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[common.Hash]struct{})}
}

func (l *MemoryLedger) CheckAndMark(_ context.Context, key Key) error {
	k := key.Storage()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[k]; ok {
		return ErrAlreadyProcessed
	}
	l.seen[k] = struct{}{}
	return nil
}

func (l *MemoryLedger) Contains(_ context.Context, key Key) (bool, error) {
	k := key.Storage()
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[k]
	return ok, nil
}
