package internal

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	sdkvaa "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/verifier/internal/vaa"
)

// Filter restricts which VAAs the listener hands to the processor. A zero
// Filter passes everything.
type Filter struct {
	ChainIDs []uint16
	Emitter  *vaa.Address
}

// NewFilter builds a filter from CLI-level values. An empty emitter string
// means no emitter filtering.
func NewFilter(chainIDs []uint16, emitter string) (Filter, error) {
	f := Filter{ChainIDs: chainIDs}
	if emitter != "" {
		addr, err := NormalizeEmitter(emitter)
		if err != nil {
			return Filter{}, fmt.Errorf("emitter filter: %w", err)
		}
		f.Emitter = &addr
	}
	return f, nil
}

// Matches reports whether the VAA passes the filter.
func (f Filter) Matches(v *vaa.VAA) bool {
	if len(f.ChainIDs) > 0 {
		found := false
		for _, id := range f.ChainIDs {
			if v.EmitterChain == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Emitter != nil && v.EmitterAddress != *f.Emitter {
		return false
	}
	return true
}

// NormalizeEmitter parses an emitter address given as hex (with or without
// 0x, left-padded to 32 bytes) or as a base58 Solana-family public key.
// A 0x prefix or a 20/32-byte hex length forces the hex reading; other
// strings are tried as base58 first, since short base58 keys are often
// valid hex too.
func NormalizeEmitter(s string) (vaa.Address, error) {
	t := strings.TrimSpace(s)
	raw := strings.TrimPrefix(t, "0x")

	if strings.HasPrefix(t, "0x") || len(raw) == 40 || len(raw) == 64 {
		return emitterFromHex(s, raw)
	}

	if pk, err := solana.PublicKeyFromBase58(t); err == nil {
		var addr vaa.Address
		copy(addr[:], pk.Bytes())
		return addr, nil
	}

	return emitterFromHex(s, raw)
}

func emitterFromHex(orig, raw string) (vaa.Address, error) {
	var addr vaa.Address
	b, err := hex.DecodeString(raw)
	if err != nil {
		return addr, fmt.Errorf("emitter address %q is neither hex nor base58", orig)
	}
	if len(b) > 32 {
		return addr, fmt.Errorf("emitter address %q is longer than 32 bytes", orig)
	}
	copy(addr[32-len(b):], b)
	return addr, nil
}

// FormatEmitter renders an emitter address in the convention of its chain:
// base58 for Solana-family chains, hex for everything else.
func FormatEmitter(chain uint16, addr vaa.Address) string {
	switch sdkvaa.ChainID(chain) {
	case sdkvaa.ChainIDSolana, sdkvaa.ChainIDPythNet:
		return solana.PublicKeyFromBytes(addr[:]).String()
	default:
		return "0x" + addr.String()
	}
}

// ChainName returns the human-readable name for a chain ID, falling back to
// the numeric form for unknown chains.
func ChainName(chain uint16) string {
	return sdkvaa.ChainID(chain).String()
}
