package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormhole-demo/verifier/internal/vaa"
)

func TestNormalizeEmitter(t *testing.T) {
	// Short hex is left-padded to 32 bytes
	addr, err := NormalizeEmitter("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, byte(0xde), addr[28])
	assert.Equal(t, byte(0xef), addr[31])
	assert.Equal(t, byte(0x00), addr[0])

	// Full 32-byte hex, with and without 0x
	full := "0848d2af89dfd7c0e171238f9216399e61e908cd31b0222a920f1bf621a16ed6"
	a1, err := NormalizeEmitter("0x" + full)
	require.NoError(t, err)
	a2, err := NormalizeEmitter(full)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	// Base58 Solana-family address
	b58 := "11111111111111111111111111111112"
	addr, err = NormalizeEmitter(b58)
	require.NoError(t, err)
	assert.Equal(t, b58, FormatEmitter(1, addr))

	_, err = NormalizeEmitter("not an address at all!")
	assert.Error(t, err)
}

func TestFilterMatches(t *testing.T) {
	emitter := vaa.Address{31: 0xba}
	other := vaa.Address{31: 0xbb}

	v := &vaa.VAA{EmitterChain: 2, EmitterAddress: emitter}

	type test struct {
		label   string
		chains  []uint16
		emitter *vaa.Address
		want    bool
	}

	tests := []test{
		{label: "Empty", want: true},
		{label: "ChainMatch", chains: []uint16{1, 2}, want: true},
		{label: "ChainMiss", chains: []uint16{1, 3}, want: false},
		{label: "EmitterMatch", emitter: &emitter, want: true},
		{label: "EmitterMiss", emitter: &other, want: false},
		{label: "BothMatch", chains: []uint16{2}, emitter: &emitter, want: true},
		{label: "ChainMatchEmitterMiss", chains: []uint16{2}, emitter: &other, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			f := Filter{ChainIDs: tc.chains, Emitter: tc.emitter}
			assert.Equal(t, tc.want, f.Matches(v))
		})
	}
}
