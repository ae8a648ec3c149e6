package replay

import (
	"context"
	"sync"

	"github.com/wormhole-demo/verifier/internal/vaa"
)

// WindowBits is the number of sequence bits per window, matching the
// fixed-capacity byte-array deployments this ledger mirrors.
const WindowBits = 15240

type emitterKey struct {
	chain   uint16
	emitter vaa.Address
}

// WindowLedger stores consumed sequences as dense per-emitter bitmaps,
// windowed by sequence/WindowBits so storage stays proportional to the
// sequence ranges actually touched.
type WindowLedger struct {
	mu      sync.Mutex
	windows map[emitterKey]map[uint64][]byte
}

func NewWindowLedger() *WindowLedger {
	return &WindowLedger{windows: make(map[emitterKey]map[uint64][]byte)}
}

func (l *WindowLedger) CheckAndMark(_ context.Context, key Key) error {
	ek := emitterKey{chain: key.Chain, emitter: key.Emitter}
	window := key.Sequence / WindowBits
	bit := key.Sequence % WindowBits

	l.mu.Lock()
	defer l.mu.Unlock()

	byEmitter, ok := l.windows[ek]
	if !ok {
		byEmitter = make(map[uint64][]byte)
		l.windows[ek] = byEmitter
	}
	buf, ok := byEmitter[window]
	if !ok {
		buf = make([]byte, (WindowBits+7)/8)
		byEmitter[window] = buf
	}

	mask := byte(1) << (bit % 8)
	if buf[bit/8]&mask != 0 {
		return ErrAlreadyProcessed
	}
	buf[bit/8] |= mask
	return nil
}

func (l *WindowLedger) Contains(_ context.Context, key Key) (bool, error) {
	ek := emitterKey{chain: key.Chain, emitter: key.Emitter}
	window := key.Sequence / WindowBits
	bit := key.Sequence % WindowBits

	l.mu.Lock()
	defer l.mu.Unlock()

	buf, ok := l.windows[ek][window]
	if !ok {
		return false, nil
	}
	return buf[bit/8]&(byte(1)<<(bit%8)) != 0, nil
}
