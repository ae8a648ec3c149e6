package vaa

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getVaa() VAA {
	var payload = []byte{97, 97, 97, 97, 97, 97}
	var governanceEmitter = Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}

	return VAA{
		Version:          uint8(1),
		GuardianSetIndex: uint32(1),
		Signatures:       []*Signature{},
		Timestamp:        time.Unix(0, 0),
		Nonce:            uint32(1),
		Sequence:         uint64(1),
		ConsistencyLevel: uint8(32),
		EmitterChain:     1,
		EmitterAddress:   governanceEmitter,
		Payload:          payload,
	}
}

var testVaaBytes = []byte{
	// header: version, guardianSetIndex (LE), signature count
	0x1, 0x1, 0x0, 0x0, 0x0, 0x0,
	// timestamp (LE)
	0x0, 0x0, 0x0, 0x0,
	// nonce (LE)
	0x1, 0x0, 0x0, 0x0,
	// emitter chain (LE)
	0x1, 0x0,
	// emitter address
	0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0,
	0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x4,
	// sequence (LE)
	0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0,
	// consistency level
	0x20,
	// payload length (LE)
	0x6, 0x0, 0x0, 0x0,
	// payload
	0x61, 0x61, 0x61, 0x61, 0x61, 0x61,
}

func TestMarshal(t *testing.T) {
	vaa := getVaa()
	marshalBytes, err := vaa.Marshal()
	require.NoError(t, err)
	assert.Equal(t, testVaaBytes, marshalBytes)
}

func TestUnmarshal(t *testing.T) {
	vaa1 := getVaa()
	vaa2, err := Unmarshal(testVaaBytes)
	require.NoError(t, err)
	assert.Equal(t, &vaa1, vaa2)
}

func TestUnmarshalStrictness(t *testing.T) {
	type test struct {
		label  string
		mutate func([]byte) []byte
		err    error
	}

	tests := []test{
		{label: "Empty",
			mutate: func(b []byte) []byte { return nil },
			err:    ErrTruncatedInput},
		{label: "HeaderOnly",
			mutate: func(b []byte) []byte { return b[:6] },
			err:    ErrTruncatedInput},
		{label: "TruncatedBody",
			mutate: func(b []byte) []byte { return b[:40] },
			err:    ErrTruncatedInput},
		{label: "TruncatedPayload",
			mutate: func(b []byte) []byte { return b[:len(b)-2] },
			err:    ErrTruncatedInput},
		{label: "TrailingByte",
			mutate: func(b []byte) []byte { return append(b, 0x00) },
			err:    ErrTrailingBytes},
		{label: "BadVersion",
			mutate: func(b []byte) []byte { b[0] = 3; return b },
			err:    ErrUnsupportedVersion},
		{label: "SignatureCountTooLarge",
			mutate: func(b []byte) []byte { b[5] = 20; return b },
			err:    ErrTooManySignatures},
		{label: "SignatureCountPastEnd",
			mutate: func(b []byte) []byte { b[5] = 5; return b },
			err:    ErrTruncatedInput},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			buf := make([]byte, len(testVaaBytes))
			copy(buf, testVaaBytes)
			_, err := Unmarshal(tc.mutate(buf))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	vaa := getVaa()
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)
	vaa.AddSignature(key, 0)

	marshalBytes, err := vaa.Marshal()
	require.NoError(t, err)

	vaa2, err := Unmarshal(marshalBytes)
	require.NoError(t, err)
	assert.Equal(t, &vaa, vaa2)
}

func TestSigningDigestStable(t *testing.T) {
	vaa := getVaa()
	d1 := vaa.SigningDigest()
	d2 := vaa.SigningDigest()
	assert.Equal(t, d1, d2)

	// Double hash: keccak(keccak(body)), not a single pass.
	body := vaa.serializeBody()
	assert.Equal(t, ethcrypto.Keccak256Hash(ethcrypto.Keccak256(body)), d1)
	assert.NotEqual(t, ethcrypto.Keccak256Hash(body), d1)
}

func TestSigningDigestCoversPayload(t *testing.T) {
	a := getVaa()
	b := getVaa()
	b.Payload = []byte{98, 98, 98}
	assert.NotEqual(t, a.SigningDigest(), b.SigningDigest())
}

func TestReplayKeyBigEndian(t *testing.T) {
	vaa := getVaa()
	vaa.EmitterChain = 0x1234
	vaa.Sequence = 0x0102030405060708

	// The storage key uses big-endian chain and sequence even though the
	// wire format is little-endian.
	var buf [42]byte
	copy(buf[0:32], vaa.EmitterAddress[:])
	binary.BigEndian.PutUint16(buf[32:34], 0x1234)
	binary.BigEndian.PutUint64(buf[34:42], 0x0102030405060708)

	assert.Equal(t, ethcrypto.Keccak256Hash(buf[:]), vaa.ReplayKey())
	assert.Equal(t, vaa.ReplayKey(), ReplayKeyOf(vaa.EmitterChain, vaa.EmitterAddress, vaa.Sequence))
}

func TestMessageID(t *testing.T) {
	vaa := getVaa()
	expected := "1/0000000000000000000000000000000000000000000000000000000000000004/1"
	assert.Equal(t, expected, vaa.MessageID())
}

func TestAddSignature(t *testing.T) {
	vaa := getVaa()
	key, _ := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	assert.Equal(t, []*Signature{}, vaa.Signatures)

	vaa.AddSignature(key, 0)
	assert.Equal(t, 1, len(vaa.Signatures))

	// The added signature recovers to the signing key
	digest := vaa.SigningDigest()
	pub, err := ethcrypto.SigToPub(digest.Bytes(), vaa.Signatures[0].Signature[:])
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), ethcrypto.PubkeyToAddress(*pub))
}

func FuzzUnmarshalPayload(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x61, 0x61, 0x61})
	f.Fuzz(func(t *testing.T, payload []byte) {
		vaa := getVaa()
		vaa.Payload = append([]byte{}, payload...)

		marshalBytes, err := vaa.Marshal()
		require.NoError(t, err)

		vaa2, err := Unmarshal(marshalBytes)
		require.NoError(t, err)

		assert.Equal(t, vaa.Payload, vaa2.Payload)
		assert.Equal(t, &vaa, vaa2)
	})
}
