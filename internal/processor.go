package internal

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal/governance"
	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/sigverify"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

// AcceptedMessage is the result of a successful verification. Governance is
// non-nil when the message was a governance action and has been applied.
type AcceptedMessage struct {
	VAA        *vaa.VAA
	Digest     common.Hash
	Governance *governance.Outcome
}

// Processor is the single verification entry point: raw bytes in, verified
// message or typed failure out. Ordering is fixed: decode, verify
// signatures, mark the replay ledger, then dispatch governance. The replay
// mark happens only after signatures check out, so a forged VAA can never
// burn a key.
type Processor struct {
	registry *guardian.Registry
	verifier *sigverify.Verifier
	ledger   replay.Ledger
	gov      *governance.StateMachine
	metrics  *Metrics
	logger   *zap.Logger

	// upgradeArtifact is the candidate code presented against
	// ContractUpgrade approvals, if any.
	upgradeArtifact []byte

	// expectedAction, when non-zero, binds every governance VAA to that
	// action; a VAA carrying anything else is rejected.
	expectedAction vaa.GovernanceAction

	now func() time.Time
}

type ProcessorOption func(*Processor)

// WithUpgradeArtifact supplies the candidate artifact for ContractUpgrade
// governance actions.
func WithUpgradeArtifact(artifact []byte) ProcessorOption {
	return func(p *Processor) { p.upgradeArtifact = artifact }
}

// WithExpectedGovernanceAction binds governance VAAs to one action type.
func WithExpectedGovernanceAction(action vaa.GovernanceAction) ProcessorOption {
	return func(p *Processor) { p.expectedAction = action }
}

// WithClock overrides the verification clock, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(logger *zap.Logger, registry *guardian.Registry, ledger replay.Ledger, gov *governance.StateMachine, metrics *Metrics, opts ...ProcessorOption) *Processor {
	p := &Processor{
		registry: registry,
		verifier: sigverify.New(registry),
		ledger:   ledger,
		gov:      gov,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "Processor")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit verifies one raw VAA. It returns replay.ErrAlreadyProcessed for
// duplicates; callers must treat that as "already handled", not a fault.
func (p *Processor) Submit(ctx context.Context, rawVAA []byte) (*AcceptedMessage, error) {
	start := time.Now()
	msg, err := p.submit(ctx, rawVAA)
	p.metrics.observe(time.Since(start), err)
	return msg, err
}

func (p *Processor) submit(ctx context.Context, rawVAA []byte) (*AcceptedMessage, error) {
	v, err := vaa.Unmarshal(rawVAA)
	if err != nil {
		p.logger.Debug("Rejected malformed VAA", zap.Int("length", len(rawVAA)), zap.Error(err))
		return nil, err
	}

	digest := v.SigningDigest()
	now := p.now()

	p.logger.Debug("Verifying VAA",
		zap.String("messageId", v.MessageID()),
		zap.String("digest", v.HexDigest()),
		zap.Uint32("guardianSet", v.GuardianSetIndex),
		zap.Int("signatures", len(v.Signatures)))

	// First VAA of a deployment: the self-certifying bootstrap path.
	if p.gov.State() == governance.Uninitialized {
		outcome, err := p.gov.Bootstrap(ctx, v, now)
		if err != nil {
			p.logger.Warn("Bootstrap VAA rejected", zap.String("messageId", v.MessageID()), zap.Error(err))
			return nil, err
		}
		return &AcceptedMessage{VAA: v, Digest: digest, Governance: outcome}, nil
	}

	if _, err := p.verifier.Verify(digest, v.GuardianSetIndex, v.Signatures, v.Timestamp, now); err != nil {
		p.logger.Warn("VAA failed signature verification",
			zap.String("messageId", v.MessageID()),
			zap.Error(err))
		return nil, err
	}

	if v.IsGovernanceEmitter() {
		outcome, err := p.gov.Apply(ctx, governance.Request{
			VAA:             v,
			Action:          p.expectedAction,
			UpgradeArtifact: p.upgradeArtifact,
		}, now)
		if err != nil {
			if errors.Is(err, replay.ErrAlreadyProcessed) {
				p.logger.Debug("Duplicate governance VAA", zap.String("messageId", v.MessageID()))
			} else {
				p.logger.Warn("Governance VAA rejected", zap.String("messageId", v.MessageID()), zap.Error(err))
			}
			return nil, err
		}
		return &AcceptedMessage{VAA: v, Digest: digest, Governance: outcome}, nil
	}

	key := replay.Key{Chain: v.EmitterChain, Emitter: v.EmitterAddress, Sequence: v.Sequence}
	if err := p.ledger.CheckAndMark(ctx, key); err != nil {
		if errors.Is(err, replay.ErrAlreadyProcessed) {
			p.logger.Debug("Duplicate VAA", zap.String("messageId", v.MessageID()))
		}
		return nil, err
	}

	p.logger.Info("VAA verified",
		zap.String("messageId", v.MessageID()),
		zap.Uint32("guardianSet", v.GuardianSetIndex),
		zap.Int("payloadLength", len(v.Payload)))

	return &AcceptedMessage{VAA: v, Digest: digest}, nil
}
