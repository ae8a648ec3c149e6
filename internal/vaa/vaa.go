package vaa

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Format errors. All of them mean the input bytes are malformed and the
// caller should not retry.
var (
	ErrTruncatedInput        = errors.New("truncated input")
	ErrTrailingBytes         = errors.New("trailing bytes after payload")
	ErrUnsupportedVersion    = errors.New("unsupported VAA version")
	ErrTooManySignatures     = errors.New("signature count exceeds maximum")
	ErrInvalidGovernanceBody = errors.New("invalid governance payload")
)

const (
	// SupportedVersion is the only VAA version this verifier accepts.
	SupportedVersion = 1

	// MaxSignatures bounds the signature count byte. A guardian set holds
	// at most 19 keys, so more signatures than that can never be valid.
	MaxSignatures = 19

	signatureLen = 66 // guardian index byte + 65-byte recoverable signature
	headerLen    = 6  // version + guardianSetIndex + signatureCount
	bodyFixedLen = 55 // fixed body fields through payloadLength
)

// Address is a 32-byte emitter address, left-padded for chains whose native
// addresses are shorter.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Signature is one guardian's recoverable signature over the signing digest,
// tagged with the guardian's position in the signing set.
type Signature struct {
	Index     uint8
	Signature [65]byte
}

// VAA is a parsed Verified Action Approval.
type VAA struct {
	Version          uint8
	GuardianSetIndex uint32
	Signatures       []*Signature
	Timestamp        time.Time
	Nonce            uint32
	EmitterChain     uint16
	EmitterAddress   Address
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// Unmarshal parses a raw VAA. Decoding is strict and single-pass: the input
// must be exactly as long as the header, signatures, fixed body fields and
// declared payload length require. Any shortfall fails with ErrTruncatedInput
// and any surplus with ErrTrailingBytes.
func Unmarshal(data []byte) (*VAA, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncatedInput, len(data), headerLen)
	}

	v := &VAA{}
	v.Version = data[0]
	if v.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v.Version)
	}

	v.GuardianSetIndex = binary.LittleEndian.Uint32(data[1:5])

	sigCount := int(data[5])
	if sigCount > MaxSignatures {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySignatures, sigCount, MaxSignatures)
	}

	bodyStart := headerLen + sigCount*signatureLen
	if len(data) < bodyStart+bodyFixedLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d for %d signatures plus body",
			ErrTruncatedInput, len(data), bodyStart+bodyFixedLen, sigCount)
	}

	v.Signatures = make([]*Signature, sigCount)
	for i := 0; i < sigCount; i++ {
		off := headerLen + i*signatureLen
		sig := &Signature{Index: data[off]}
		copy(sig.Signature[:], data[off+1:off+signatureLen])
		v.Signatures[i] = sig
	}

	body := data[bodyStart:]
	v.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(body[0:4])), 0)
	v.Nonce = binary.LittleEndian.Uint32(body[4:8])
	v.EmitterChain = binary.LittleEndian.Uint16(body[8:10])
	copy(v.EmitterAddress[:], body[10:42])
	v.Sequence = binary.LittleEndian.Uint64(body[42:50])
	v.ConsistencyLevel = body[50]

	payloadLen := int(binary.LittleEndian.Uint32(body[51:55]))
	rest := body[55:]
	if len(rest) < payloadLen {
		return nil, fmt.Errorf("%w: payload declares %d bytes, %d remain", ErrTruncatedInput, payloadLen, len(rest))
	}
	if len(rest) > payloadLen {
		return nil, fmt.Errorf("%w: %d bytes past declared payload", ErrTrailingBytes, len(rest)-payloadLen)
	}
	v.Payload = make([]byte, payloadLen)
	copy(v.Payload, rest)

	return v, nil
}

// Marshal produces the full wire encoding, header and body.
func (v *VAA) Marshal() ([]byte, error) {
	if len(v.Signatures) > MaxSignatures {
		return nil, fmt.Errorf("%w: %d", ErrTooManySignatures, len(v.Signatures))
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(v.Version)
	binary.Write(buf, binary.LittleEndian, v.GuardianSetIndex)
	buf.WriteByte(uint8(len(v.Signatures)))
	for _, sig := range v.Signatures {
		buf.WriteByte(sig.Index)
		buf.Write(sig.Signature[:])
	}
	buf.Write(v.serializeBody())
	return buf.Bytes(), nil
}

// serializeBody produces the canonical body encoding that the signing digest
// is computed over. It is a pure function of the body fields; re-encoding a
// decoded VAA reproduces the bytes that were signed.
func (v *VAA) serializeBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(v.Timestamp.Unix()))
	binary.Write(buf, binary.LittleEndian, v.Nonce)
	binary.Write(buf, binary.LittleEndian, v.EmitterChain)
	buf.Write(v.EmitterAddress[:])
	binary.Write(buf, binary.LittleEndian, v.Sequence)
	buf.WriteByte(v.ConsistencyLevel)
	binary.Write(buf, binary.LittleEndian, uint32(len(v.Payload)))
	buf.Write(v.Payload)
	return buf.Bytes()
}

// SigningDigest is the 32-byte value guardians sign: keccak256 applied twice
// to the canonical body bytes.
func (v *VAA) SigningDigest() common.Hash {
	return ethcrypto.Keccak256Hash(ethcrypto.Keccak256(v.serializeBody()))
}

// ReplayKey derives the storage key for the replay ledger. The chain and
// sequence are encoded big-endian here regardless of the little-endian wire
// format; existing deployments derive their keys this way.
func (v *VAA) ReplayKey() common.Hash {
	return ReplayKeyOf(v.EmitterChain, v.EmitterAddress, v.Sequence)
}

// ReplayKeyOf is ReplayKey for callers that hold the tuple rather than a VAA.
func ReplayKeyOf(chain uint16, emitter Address, sequence uint64) common.Hash {
	var buf [42]byte
	copy(buf[0:32], emitter[:])
	binary.BigEndian.PutUint16(buf[32:34], chain)
	binary.BigEndian.PutUint64(buf[34:42], sequence)
	return ethcrypto.Keccak256Hash(buf[:])
}

// MessageID returns the chain/emitter/sequence identity used in logs and
// API responses.
func (v *VAA) MessageID() string {
	return fmt.Sprintf("%d/%s/%d", v.EmitterChain, v.EmitterAddress, v.Sequence)
}

// HexDigest returns the signing digest as a hex string.
func (v *VAA) HexDigest() string {
	return hex.EncodeToString(v.SigningDigest().Bytes())
}

// AddSignature signs the digest with the given key and appends the signature
// at the given guardian index.
func (v *VAA) AddSignature(key *ecdsa.PrivateKey, index uint8) {
	digest := v.SigningDigest()
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		panic(err)
	}
	sigData := [65]byte{}
	copy(sigData[:], sig)
	v.Signatures = append(v.Signatures, &Signature{
		Index:     index,
		Signature: sigData,
	})
}
