package internal

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wormhole-demo/verifier/internal/governance"
	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/sigverify"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

// Metrics counts verification outcomes. Rejections are labeled with the
// check that failed so dashboards can tell forged signatures from malformed
// input.
type Metrics struct {
	accepted   prometheus.Counter
	duplicates prometheus.Counter
	rejected   *prometheus.CounterVec
	latency    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "vaas_accepted",
			Help:      "number of VAAs that passed verification",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "vaas_duplicate",
			Help:      "number of VAAs rejected as already processed",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifier",
			Name:      "vaas_rejected",
			Help:      "number of VAAs rejected, by failing check",
		}, []string{"reason"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "verifier",
			Name:      "verification_duration_seconds",
			Help:      "end-to-end verification latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) observe(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
	switch {
	case err == nil:
		m.accepted.Inc()
	case errors.Is(err, replay.ErrAlreadyProcessed):
		m.duplicates.Inc()
	default:
		m.rejected.WithLabelValues(rejectReason(err)).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, vaa.ErrTruncatedInput),
		errors.Is(err, vaa.ErrTrailingBytes),
		errors.Is(err, vaa.ErrUnsupportedVersion),
		errors.Is(err, vaa.ErrTooManySignatures):
		return "format"
	case errors.Is(err, vaa.ErrInvalidGovernanceBody):
		return "governance_format"
	case errors.Is(err, guardian.ErrUnknownSet):
		return "unknown_guardian_set"
	case errors.Is(err, sigverify.ErrGuardianSetExpired):
		return "guardian_set_expired"
	case errors.Is(err, sigverify.ErrQuorumNotMet):
		return "quorum_not_met"
	case errors.Is(err, sigverify.ErrIndicesNotSorted):
		return "indices_not_sorted"
	case errors.Is(err, sigverify.ErrDuplicateSigner):
		return "duplicate_signer"
	case errors.Is(err, sigverify.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, governance.ErrWrongEmitter):
		return "wrong_governance_emitter"
	case errors.Is(err, governance.ErrWrongTarget),
		errors.Is(err, governance.ErrWrongTargetChain):
		return "wrong_governance_target"
	case errors.Is(err, governance.ErrStaleSigningSet):
		return "stale_signing_set"
	case errors.Is(err, governance.ErrUpgradeHashMismatch):
		return "upgrade_hash_mismatch"
	default:
		return "other"
	}
}
