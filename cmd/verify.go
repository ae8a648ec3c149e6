package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wormhole-demo/verifier/internal"
	"github.com/wormhole-demo/verifier/internal/replay"
	"github.com/wormhole-demo/verifier/internal/vaa"
)

// verifyCmd checks a single VAA and exits. Useful for air-gapped checking.
var verifyCmd = &cobra.Command{
	Use:   "verify <vaa-hex|@file>",
	Short: "Verify a single VAA and exit",
	Long: `Verifies one VAA against a guardian set bootstrapped from
--guardian-keys or --bootstrap-vaa and prints the verdict.`,
	Args: cobra.ExactArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		configureLogging(cmd, args)
	},
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Uint8(
		"expect-action",
		0,
		"Require a governance VAA carrying this action (1=ContractUpgrade, 2=GuardianSetUpgrade, 3=SetMessageFee, 4=TransferFees)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)

	raw, err := readBytesArg(args[0])
	if err != nil {
		return fmt.Errorf("read VAA: %v", err)
	}

	expectAction, _ := cmd.Flags().GetUint8("expect-action")
	var opts []internal.ProcessorOption
	if expectAction != 0 {
		opts = append(opts, internal.WithExpectedGovernanceAction(vaa.GovernanceAction(expectAction)))
	}

	stack, err := buildStack(logger,
		replay.NewMemoryLedger(),
		uint16(viper.GetUint32("chain_id")),
		viper.GetStringSlice("guardian_keys"),
		viper.GetString("bootstrap_vaa"),
		viper.GetString("upgrade_artifact"),
		opts...)
	if err != nil {
		return err
	}

	msg, err := stack.processor.Submit(context.Background(), raw)
	if err != nil {
		if errors.Is(err, replay.ErrAlreadyProcessed) {
			logger.Info("VAA already processed (duplicate of the bootstrap VAA)")
			return nil
		}
		return fmt.Errorf("verification failed: %v", err)
	}

	if expectAction != 0 && msg.Governance == nil {
		return fmt.Errorf("VAA is not a governance message")
	}

	logger.Info("VAA verified",
		zap.String("messageId", msg.VAA.MessageID()),
		zap.String("digest", msg.VAA.HexDigest()),
		zap.Int("signatures", len(msg.VAA.Signatures)))

	if msg.Governance != nil {
		logger.Info("Governance action",
			zap.String("action", msg.Governance.Action.String()))
	}

	return nil
}
