// Package governance applies configuration changes carried by verified VAAs.
package governance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/sigverify"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

var (
	ErrNotBootstrapped     = errors.New("governance not bootstrapped")
	ErrAlreadyBootstrapped = errors.New("governance already bootstrapped")
	ErrWrongEmitter        = errors.New("not the governance emitter")
	ErrWrongTarget         = errors.New("governance action does not match requested target")
	ErrWrongTargetChain    = errors.New("governance targets a different chain")
	ErrStaleSigningSet     = errors.New("governance must be signed by the current guardian set")
	ErrBadBootstrap        = errors.New("bootstrap VAA is not a valid guardian set upgrade")
	ErrUpgradeHashMismatch = errors.New("upgrade artifact hash mismatch")
)

// State of the machine: Uninitialized until the bootstrap guardian-set
// upgrade is accepted, Active afterwards.
type State int

const (
	Uninitialized State = iota
	Active
)

// FeeTransfer is the effect of a TransferFees action. The machine holds no
// funds; the caller's treasury adapter executes it.
type FeeTransfer struct {
	Amount    *big.Int
	Recipient vaa.Address
}

// Outcome describes the state transition a governance VAA produced.
type Outcome struct {
	Action              vaa.GovernanceAction
	NewGuardianSetIndex *uint32
	MessageFee          *big.Int
	FeeTransfer         *FeeTransfer
	ApprovedCodeHash    *common.Hash
}

// Request is one governance application. Action zero means "dispatch on
// whatever the payload carries"; a non-zero Action binds the VAA to that
// action and rejects anything else, so a VAA cannot be replayed against a
// different target instruction. UpgradeArtifact is the candidate code for
// ContractUpgrade actions.
type Request struct {
	VAA             *vaa.VAA
	Action          vaa.GovernanceAction
	UpgradeArtifact []byte
}

// StateMachine validates and applies governance VAAs. Every application is
// all-or-nothing: all checks run first, then the replay mark, then the
// mutation, under one lock.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	registry *guardian.Registry
	ledger   replay.Ledger
	chainID  uint16
	fee      *big.Int
	logger   *zap.Logger
}

func New(logger *zap.Logger, registry *guardian.Registry, ledger replay.Ledger, chainID uint16) *StateMachine {
	return &StateMachine{
		state:    Uninitialized,
		registry: registry,
		ledger:   ledger,
		chainID:  chainID,
		fee:      new(big.Int),
		logger:   logger.With(zap.String("component", "Governance")),
	}
}

func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MessageFee returns the current message fee.
func (m *StateMachine) MessageFee() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.fee)
}

// Bootstrap consumes the first VAA of a deployment. It must be a
// GuardianSetUpgrade establishing set 0 or 1, and it is self-certifying:
// the header's guardian set index must equal the new set's index and the
// signatures are checked, at quorum, against the keys the payload carries.
func (m *StateMachine) Bootstrap(ctx context.Context, v *vaa.VAA, now time.Time) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Uninitialized {
		return nil, ErrAlreadyBootstrapped
	}
	if !v.IsGovernanceEmitter() {
		return nil, fmt.Errorf("%w: %d/%s", ErrWrongEmitter, v.EmitterChain, v.EmitterAddress)
	}

	g, err := vaa.ParseGovernance(v.Payload)
	if err != nil {
		return nil, err
	}
	if g.Action != vaa.ActionGuardianSetUpgrade {
		return nil, fmt.Errorf("%w: carries %s", ErrBadBootstrap, g.Action)
	}
	up := g.GuardianSetUpgrade
	if up.NewIndex > 1 {
		return nil, fmt.Errorf("%w: new index %d, must be 0 or 1", ErrBadBootstrap, up.NewIndex)
	}
	if v.GuardianSetIndex != up.NewIndex {
		return nil, fmt.Errorf("%w: header set index %d does not match new index %d",
			ErrBadBootstrap, v.GuardianSetIndex, up.NewIndex)
	}
	if err := m.checkTargetChain(g.TargetChain); err != nil {
		return nil, err
	}

	set := &guardian.Set{Index: up.NewIndex, Keys: up.Keys}
	session := sigverify.BeginWithSet(v.SigningDigest(), set)
	if err := session.Add(v.Signatures); err != nil {
		return nil, err
	}
	if _, err := session.Finalize(); err != nil {
		return nil, err
	}

	if err := m.ledger.CheckAndMark(ctx, replayKey(v)); err != nil {
		return nil, err
	}
	if err := m.registry.Activate(set, now); err != nil {
		return nil, err
	}
	m.state = Active

	m.logger.Info("Bootstrapped guardian set",
		zap.Uint32("index", set.Index),
		zap.Int("keys", len(set.Keys)))

	idx := up.NewIndex
	return &Outcome{Action: g.Action, NewGuardianSetIndex: &idx}, nil
}

// Apply validates and applies one governance VAA. The caller must already
// have verified the VAA's signatures; Apply additionally requires the
// governance emitter, the current guardian set as signer, a matching target,
// and a fresh replay key. Nothing mutates until every check has passed.
func (m *StateMachine) Apply(ctx context.Context, req Request, now time.Time) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active {
		return nil, ErrNotBootstrapped
	}
	v := req.VAA
	if !v.IsGovernanceEmitter() {
		return nil, fmt.Errorf("%w: %d/%s", ErrWrongEmitter, v.EmitterChain, v.EmitterAddress)
	}

	// A consumed key is terminal no matter what else has changed since, so
	// resubmitting an already-applied rotation reports "already processed"
	// rather than a stale-set failure.
	if seen, err := m.ledger.Contains(ctx, replayKey(v)); err != nil {
		return nil, err
	} else if seen {
		return nil, replay.ErrAlreadyProcessed
	}

	if latest, _ := m.registry.LatestIndex(); v.GuardianSetIndex != latest {
		return nil, fmt.Errorf("%w: signed by set %d, current is %d", ErrStaleSigningSet, v.GuardianSetIndex, latest)
	}

	g, err := vaa.ParseGovernance(v.Payload)
	if err != nil {
		return nil, err
	}
	if req.Action != 0 && g.Action != req.Action {
		return nil, fmt.Errorf("%w: carries %s, caller requested %s", ErrWrongTarget, g.Action, req.Action)
	}
	if err := m.checkTargetChain(g.TargetChain); err != nil {
		return nil, err
	}

	// Validate the action fully before touching the ledger so a failure
	// never leaves a consumed key.
	outcome := &Outcome{Action: g.Action}
	var apply func()

	switch g.Action {
	case vaa.ActionGuardianSetUpgrade:
		up := g.GuardianSetUpgrade
		latest, _ := m.registry.LatestIndex()
		if up.NewIndex != latest+1 {
			return nil, fmt.Errorf("%w: got %d, latest is %d", guardian.ErrNotNextSet, up.NewIndex, latest)
		}
		set := &guardian.Set{Index: up.NewIndex, Keys: up.Keys}
		idx := up.NewIndex
		outcome.NewGuardianSetIndex = &idx
		apply = func() {
			if err := m.registry.Activate(set, now); err != nil {
				// Activate was pre-validated under the same lock.
				m.logger.Error("Guardian set activation failed after replay mark", zap.Error(err))
			}
		}

	case vaa.ActionSetMessageFee:
		fee := new(big.Int).Set(g.SetMessageFee.Fee)
		outcome.MessageFee = fee
		apply = func() { m.fee = fee }

	case vaa.ActionTransferFees:
		outcome.FeeTransfer = &FeeTransfer{
			Amount:    new(big.Int).Set(g.TransferFees.Amount),
			Recipient: g.TransferFees.Recipient,
		}
		apply = func() {}

	case vaa.ActionContractUpgrade:
		want := g.ContractUpgrade.NewCodeHash
		if req.UpgradeArtifact == nil {
			return nil, fmt.Errorf("%w: no candidate artifact presented", ErrUpgradeHashMismatch)
		}
		got := ethcrypto.Keccak256Hash(req.UpgradeArtifact)
		if !bytes.Equal(got.Bytes(), want.Bytes()) {
			return nil, fmt.Errorf("%w: artifact %s, approval %s", ErrUpgradeHashMismatch, got, want)
		}
		outcome.ApprovedCodeHash = &want
		apply = func() {}

	default:
		return nil, fmt.Errorf("%w: unknown action %d", vaa.ErrInvalidGovernanceBody, uint8(g.Action))
	}

	if err := m.ledger.CheckAndMark(ctx, replayKey(v)); err != nil {
		return nil, err
	}
	apply()

	m.logger.Info("Applied governance action",
		zap.String("action", g.Action.String()),
		zap.String("messageId", v.MessageID()))

	return outcome, nil
}

func (m *StateMachine) checkTargetChain(target uint16) error {
	if target != 0 && target != m.chainID {
		return fmt.Errorf("%w: targets chain %d, this deployment is chain %d", ErrWrongTargetChain, target, m.chainID)
	}
	return nil
}

func replayKey(v *vaa.VAA) replay.Key {
	return replay.Key{Chain: v.EmitterChain, Emitter: v.EmitterAddress, Sequence: v.Sequence}
}

// BootstrapLocal activates a guardian set directly, without a bootstrap VAA.
// Used for dev deployments started from a configured key list.
func (m *StateMachine) BootstrapLocal(keys []common.Address, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Uninitialized {
		return ErrAlreadyBootstrapped
	}
	if err := m.registry.Activate(&guardian.Set{Index: 0, Keys: keys}, now); err != nil {
		return err
	}
	m.state = Active
	m.logger.Info("Bootstrapped guardian set from local configuration", zap.Int("keys", len(keys)))
	return nil
}
