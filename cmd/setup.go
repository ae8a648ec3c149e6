package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal"
	"github.com/wormhole-demo/verifier/internal/governance"
	"github.com/wormhole-demo/verifier/internal/guardian"
	"github.com/wormhole-demo/verifier/internal/replay"
)

// verifierStack bundles everything a command needs to verify VAAs.
type verifierStack struct {
	registry     *guardian.Registry
	ledger       replay.Ledger
	gov          *governance.StateMachine
	processor    *internal.Processor
	promRegistry *prometheus.Registry
}

// buildStack wires the registry, ledger, governance machine and processor,
// and bootstraps the guardian set from either --guardian-keys or
// --bootstrap-vaa when given.
func buildStack(logger *zap.Logger, ledger replay.Ledger, chainID uint16, guardianKeys []string, bootstrapVAA string, upgradeArtifactPath string, extraOpts ...internal.ProcessorOption) (*verifierStack, error) {
	registry := guardian.NewRegistry()
	gov := governance.New(logger, registry, ledger, chainID)
	promRegistry := prometheus.NewRegistry()
	metrics := internal.NewMetrics(promRegistry)

	var opts []internal.ProcessorOption
	if upgradeArtifactPath != "" {
		artifact, err := os.ReadFile(upgradeArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("read upgrade artifact: %v", err)
		}
		opts = append(opts, internal.WithUpgradeArtifact(artifact))
	}
	opts = append(opts, extraOpts...)

	processor := internal.NewProcessor(logger, registry, ledger, gov, metrics, opts...)

	if len(guardianKeys) > 0 {
		keys, err := parseGuardianKeys(guardianKeys)
		if err != nil {
			return nil, err
		}
		if err := gov.BootstrapLocal(keys, time.Now()); err != nil {
			return nil, fmt.Errorf("bootstrap guardian set: %v", err)
		}
	} else if bootstrapVAA != "" {
		raw, err := readBytesArg(bootstrapVAA)
		if err != nil {
			return nil, fmt.Errorf("read bootstrap VAA: %v", err)
		}
		if _, err := processor.Submit(context.Background(), raw); err != nil {
			return nil, fmt.Errorf("bootstrap VAA rejected: %v", err)
		}
	}

	return &verifierStack{
		registry:     registry,
		ledger:       ledger,
		gov:          gov,
		processor:    processor,
		promRegistry: promRegistry,
	}, nil
}

// readBytesArg reads hex bytes given directly or as @file.
func readBytesArg(arg string) ([]byte, error) {
	s := arg
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(string(data))
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func parseGuardianKeys(keys []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(keys))
	for _, k := range keys {
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("guardian key %q is not a 20-byte hex value", k)
		}
		out = append(out, common.HexToAddress(k))
	}
	return out, nil
}
