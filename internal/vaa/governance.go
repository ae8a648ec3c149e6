package vaa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GovernanceChain and GovernanceEmitter identify the protocol-reserved
// emitter whose messages carry configuration changes. They are fixed across
// all deployments.
const GovernanceChain uint16 = 1

var GovernanceEmitter = Address{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4,
}

// CoreModule is the 32-byte module identifier of core-contract governance,
// the ASCII string "Core" right-aligned.
var CoreModule = [32]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x43, 0x6f, 0x72, 0x65,
}

// GovernanceAction tags the variant carried by a governance payload.
type GovernanceAction uint8

const (
	ActionContractUpgrade    GovernanceAction = 1
	ActionGuardianSetUpgrade GovernanceAction = 2
	ActionSetMessageFee      GovernanceAction = 3
	ActionTransferFees       GovernanceAction = 4
)

func (a GovernanceAction) String() string {
	switch a {
	case ActionContractUpgrade:
		return "ContractUpgrade"
	case ActionGuardianSetUpgrade:
		return "GuardianSetUpgrade"
	case ActionSetMessageFee:
		return "SetMessageFee"
	case ActionTransferFees:
		return "TransferFees"
	default:
		return fmt.Sprintf("UnknownAction(%d)", uint8(a))
	}
}

// GuardianSetUpgrade replaces the active guardian set with a new one at
// NewIndex.
type GuardianSetUpgrade struct {
	NewIndex uint32
	Keys     []common.Address
}

// SetMessageFee updates the fee charged for publishing a message.
type SetMessageFee struct {
	Fee *big.Int
}

// TransferFees moves accrued fees to a recipient.
type TransferFees struct {
	Amount    *big.Int
	Recipient Address
}

// ContractUpgrade approves a new contract artifact by its content hash.
type ContractUpgrade struct {
	NewCodeHash common.Hash
}

// Governance is a decoded governance payload. Exactly one of the variant
// pointers matching Action is non-nil.
type Governance struct {
	Module      [32]byte
	Action      GovernanceAction
	TargetChain uint16

	GuardianSetUpgrade *GuardianSetUpgrade
	SetMessageFee      *SetMessageFee
	TransferFees       *TransferFees
	ContractUpgrade    *ContractUpgrade
}

// ParseGovernance decodes the governance payload of a VAA. Unlike the outer
// wire format, governance integers are big-endian, and amounts are 32-byte
// big-endian values.
func ParseGovernance(payload []byte) (*Governance, error) {
	if len(payload) < 35 {
		return nil, fmt.Errorf("%w: %d bytes, need at least 35", ErrInvalidGovernanceBody, len(payload))
	}

	g := &Governance{}
	copy(g.Module[:], payload[0:32])
	if !bytes.Equal(g.Module[:], CoreModule[:]) {
		return nil, fmt.Errorf("%w: module %x is not the core module", ErrInvalidGovernanceBody, g.Module)
	}
	g.Action = GovernanceAction(payload[32])
	g.TargetChain = binary.BigEndian.Uint16(payload[33:35])
	rest := payload[35:]

	switch g.Action {
	case ActionGuardianSetUpgrade:
		if len(rest) < 5 {
			return nil, fmt.Errorf("%w: guardian set upgrade header truncated", ErrInvalidGovernanceBody)
		}
		up := &GuardianSetUpgrade{NewIndex: binary.BigEndian.Uint32(rest[0:4])}
		keyCount := int(rest[4])
		if keyCount == 0 || keyCount > MaxSignatures {
			return nil, fmt.Errorf("%w: guardian key count %d out of range", ErrInvalidGovernanceBody, keyCount)
		}
		if len(rest) != 5+keyCount*20 {
			return nil, fmt.Errorf("%w: %d bytes for %d guardian keys", ErrInvalidGovernanceBody, len(rest)-5, keyCount)
		}
		up.Keys = make([]common.Address, keyCount)
		for i := 0; i < keyCount; i++ {
			copy(up.Keys[i][:], rest[5+i*20:5+(i+1)*20])
		}
		g.GuardianSetUpgrade = up

	case ActionSetMessageFee:
		if len(rest) != 32 {
			return nil, fmt.Errorf("%w: fee amount must be 32 bytes, got %d", ErrInvalidGovernanceBody, len(rest))
		}
		g.SetMessageFee = &SetMessageFee{Fee: new(big.Int).SetBytes(rest)}

	case ActionTransferFees:
		if len(rest) != 64 {
			return nil, fmt.Errorf("%w: transfer fees body must be 64 bytes, got %d", ErrInvalidGovernanceBody, len(rest))
		}
		tf := &TransferFees{Amount: new(big.Int).SetBytes(rest[0:32])}
		copy(tf.Recipient[:], rest[32:64])
		g.TransferFees = tf

	case ActionContractUpgrade:
		if len(rest) != 32 {
			return nil, fmt.Errorf("%w: code hash must be 32 bytes, got %d", ErrInvalidGovernanceBody, len(rest))
		}
		cu := &ContractUpgrade{}
		copy(cu.NewCodeHash[:], rest)
		g.ContractUpgrade = cu

	default:
		return nil, fmt.Errorf("%w: unknown action %d", ErrInvalidGovernanceBody, uint8(g.Action))
	}

	return g, nil
}

// SerializeGovernance is the inverse of ParseGovernance, used by tests and
// tooling to construct governance VAAs.
func SerializeGovernance(g *Governance) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(g.Module[:])
	buf.WriteByte(uint8(g.Action))
	binary.Write(buf, binary.BigEndian, g.TargetChain)

	switch g.Action {
	case ActionGuardianSetUpgrade:
		up := g.GuardianSetUpgrade
		if up == nil || len(up.Keys) == 0 || len(up.Keys) > MaxSignatures {
			return nil, fmt.Errorf("%w: bad guardian set upgrade", ErrInvalidGovernanceBody)
		}
		binary.Write(buf, binary.BigEndian, up.NewIndex)
		buf.WriteByte(uint8(len(up.Keys)))
		for _, k := range up.Keys {
			buf.Write(k[:])
		}
	case ActionSetMessageFee:
		if g.SetMessageFee == nil {
			return nil, fmt.Errorf("%w: missing fee", ErrInvalidGovernanceBody)
		}
		buf.Write(leftPad32(g.SetMessageFee.Fee))
	case ActionTransferFees:
		if g.TransferFees == nil {
			return nil, fmt.Errorf("%w: missing transfer", ErrInvalidGovernanceBody)
		}
		buf.Write(leftPad32(g.TransferFees.Amount))
		buf.Write(g.TransferFees.Recipient[:])
	case ActionContractUpgrade:
		if g.ContractUpgrade == nil {
			return nil, fmt.Errorf("%w: missing code hash", ErrInvalidGovernanceBody)
		}
		buf.Write(g.ContractUpgrade.NewCodeHash[:])
	default:
		return nil, fmt.Errorf("%w: unknown action %d", ErrInvalidGovernanceBody, uint8(g.Action))
	}

	return buf.Bytes(), nil
}

func leftPad32(n *big.Int) []byte {
	out := make([]byte, 32)
	b := n.Bytes()
	copy(out[32-len(b):], b)
	return out
}

// IsGovernanceEmitter reports whether the VAA comes from the fixed
// governance identity.
func (v *VAA) IsGovernanceEmitter() bool {
	return v.EmitterChain == GovernanceChain && v.EmitterAddress == GovernanceEmitter
}
