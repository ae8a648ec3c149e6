package internal

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal/governance"
	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/sigverify"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

type procFixture struct {
	processor *Processor
	registry  *guardian.Registry
	keys      []*ecdsa.PrivateKey
	addrs     []common.Address
}

func newProcFixture(t *testing.T, guardians int, opts ...ProcessorOption) *procFixture {
	t.Helper()
	f := &procFixture{registry: guardian.NewRegistry()}
	for i := 0; i < guardians; i++ {
		key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
		require.NoError(t, err)
		f.keys = append(f.keys, key)
		f.addrs = append(f.addrs, ethcrypto.PubkeyToAddress(key.PublicKey))
	}

	logger := zap.NewNop()
	ledger := replay.NewMemoryLedger()
	gov := governance.New(logger, f.registry, ledger, 0)
	metrics := NewMetrics(prometheus.NewRegistry())
	f.processor = NewProcessor(logger, f.registry, ledger, gov, metrics, opts...)
	return f
}

// bootstrap submits the self-certifying guardian-set-upgrade VAA signed by
// all fixture guardians.
func (f *procFixture) bootstrap(t *testing.T) {
	t.Helper()
	payload, err := vaa.SerializeGovernance(&vaa.Governance{
		Module:             vaa.CoreModule,
		Action:             vaa.ActionGuardianSetUpgrade,
		GuardianSetUpgrade: &vaa.GuardianSetUpgrade{NewIndex: 0, Keys: f.addrs},
	})
	require.NoError(t, err)

	v := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(1000, 0),
		EmitterChain:     vaa.GovernanceChain,
		EmitterAddress:   vaa.GovernanceEmitter,
		Sequence:         0,
		ConsistencyLevel: 32,
		Payload:          payload,
	}
	for i, key := range f.keys {
		v.AddSignature(key, uint8(i))
	}
	raw, err := v.Marshal()
	require.NoError(t, err)

	msg, err := f.processor.Submit(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Governance)
}

// makeVAA builds an ordinary message VAA signed by the guardians at the
// given indices.
func (f *procFixture) makeVAA(t *testing.T, sequence uint64, payload []byte, indices ...uint8) []byte {
	t.Helper()
	emitter := vaa.Address{}
	emitter[31] = 0xba

	v := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(2000, 0),
		Nonce:            0,
		EmitterChain:     2,
		EmitterAddress:   emitter,
		Sequence:         sequence,
		ConsistencyLevel: 1,
		Payload:          payload,
	}
	for _, idx := range indices {
		v.AddSignature(f.keys[idx], idx)
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

func TestSubmitSingleGuardian(t *testing.T) {
	f := newProcFixture(t, 1)
	f.bootstrap(t)

	raw := f.makeVAA(t, 1, []byte("All your base are belong to us."), 0)

	msg, err := f.processor.Submit(context.Background(), raw)
	require.NoError(t, err)
	assert.Nil(t, msg.Governance)
	assert.Equal(t, uint64(1), msg.VAA.Sequence)
	assert.Equal(t, "All your base are belong to us.", string(msg.VAA.Payload))
	assert.Equal(t, msg.VAA.SigningDigest(), msg.Digest)

	// Byte-identical resubmission is a terminal no-op
	_, err = f.processor.Submit(context.Background(), raw)
	assert.ErrorIs(t, err, replay.ErrAlreadyProcessed)
}

func TestSubmitNineteenGuardians(t *testing.T) {
	f := newProcFixture(t, 19)
	f.bootstrap(t)

	thirteen := []uint8{0, 1, 2, 3, 5, 7, 8, 9, 10, 12, 15, 16, 18}

	_, err := f.processor.Submit(context.Background(), f.makeVAA(t, 1, []byte("ok"), thirteen...))
	require.NoError(t, err)

	_, err = f.processor.Submit(context.Background(), f.makeVAA(t, 2, []byte("short"), thirteen[:12]...))
	assert.ErrorIs(t, err, sigverify.ErrQuorumNotMet)

	reordered := []uint8{0, 1, 2, 5, 3, 7, 8, 9, 10, 12, 15, 16, 18}
	_, err = f.processor.Submit(context.Background(), f.makeVAA(t, 3, []byte("misordered"), reordered...))
	assert.ErrorIs(t, err, sigverify.ErrIndicesNotSorted)
}

func TestSubmitMalformed(t *testing.T) {
	f := newProcFixture(t, 1)
	f.bootstrap(t)

	_, err := f.processor.Submit(context.Background(), []byte{0x01, 0x02})
	assert.ErrorIs(t, err, vaa.ErrTruncatedInput)
}

func TestSubmitForgedSignature(t *testing.T) {
	f := newProcFixture(t, 1)
	f.bootstrap(t)

	rogue, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)

	emitter := vaa.Address{}
	emitter[31] = 0xba
	v := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(2000, 0),
		EmitterChain:     2,
		EmitterAddress:   emitter,
		Sequence:         1,
		ConsistencyLevel: 1,
		Payload:          []byte("forged"),
	}
	v.AddSignature(rogue, 0)
	raw, err := v.Marshal()
	require.NoError(t, err)

	_, err = f.processor.Submit(context.Background(), raw)
	assert.ErrorIs(t, err, sigverify.ErrSignatureMismatch)

	// The forged VAA must not have burned the replay key for the genuine
	// message with the same emitter and sequence
	good := f.makeVAA(t, 1, []byte("forged"), 0)
	_, err = f.processor.Submit(context.Background(), good)
	assert.NoError(t, err)
}

func TestSubmitGovernanceRotation(t *testing.T) {
	f := newProcFixture(t, 1)
	f.bootstrap(t)

	nextKey, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)

	payload, err := vaa.SerializeGovernance(&vaa.Governance{
		Module:             vaa.CoreModule,
		Action:             vaa.ActionGuardianSetUpgrade,
		GuardianSetUpgrade: &vaa.GuardianSetUpgrade{NewIndex: 1, Keys: []common.Address{ethcrypto.PubkeyToAddress(nextKey.PublicKey)}},
	})
	require.NoError(t, err)

	v := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 0,
		Timestamp:        time.Unix(3000, 0),
		EmitterChain:     vaa.GovernanceChain,
		EmitterAddress:   vaa.GovernanceEmitter,
		Sequence:         1,
		ConsistencyLevel: 32,
		Payload:          payload,
	}
	v.AddSignature(f.keys[0], 0)
	raw, err := v.Marshal()
	require.NoError(t, err)

	msg, err := f.processor.Submit(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Governance)
	require.NotNil(t, msg.Governance.NewGuardianSetIndex)
	assert.Equal(t, uint32(1), *msg.Governance.NewGuardianSetIndex)

	latest, _ := f.registry.LatestIndex()
	assert.Equal(t, uint32(1), latest)

	// Identical governance VAA again: no double rotation
	_, err = f.processor.Submit(context.Background(), raw)
	assert.ErrorIs(t, err, replay.ErrAlreadyProcessed)
	latest, _ = f.registry.LatestIndex()
	assert.Equal(t, uint32(1), latest)
}

func TestSubmitOldSetAcrossRotation(t *testing.T) {
	f := newProcFixture(t, 1)
	f.bootstrap(t)

	activation := time.Unix(10000, 0)
	now := activation
	f.processor.now = func() time.Time { return now }

	nextKey, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)
	require.NoError(t, f.registry.Activate(&guardian.Set{
		Index: 1,
		Keys:  []common.Address{ethcrypto.PubkeyToAddress(nextKey.PublicKey)},
	}, activation))

	// Signed by set 0 and timestamped before the rotation: still verifiable,
	// even after the grace period has elapsed
	preRotation := f.makeVAA(t, 5, []byte("in flight"), 0)
	now = activation.Add(guardian.GracePeriod + time.Hour)
	_, err = f.processor.Submit(context.Background(), preRotation)
	assert.NoError(t, err)

	// Timestamped after the grace period ended: the old set is dead
	expired := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 0,
		Timestamp:        activation.Add(guardian.GracePeriod + 30*time.Minute),
		EmitterChain:     2,
		Sequence:         6,
		Payload:          []byte("too late"),
	}
	expired.AddSignature(f.keys[0], 0)
	raw, err := expired.Marshal()
	require.NoError(t, err)
	_, err = f.processor.Submit(context.Background(), raw)
	assert.ErrorIs(t, err, sigverify.ErrGuardianSetExpired)
}
