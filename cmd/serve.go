package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-demo/verifier/internal"
	"github.com/wormhole-demo/verifier/internal/clients"
	"github.com/wormhole-demo/verifier/internal/db"
	"github.com/wormhole-demo/verifier/internal/replay"
)

const (
	DefaultListenAddr = ":8080"
	DefaultSpyRPCHost = "localhost:7073"
)

// serveCmd runs the verification service and, optionally, the spy listener.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VAA verification service",
	Long: `Runs the HTTP verification service and, when a spy endpoint is configured,
a listener that verifies every VAA observed on the Wormhole network.

The replay ledger is kept in memory unless a database URL is configured, in
which case processed-message claims are persisted to Postgres.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
		configureLogging(cmd, args)
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String(
		"listen-addr",
		DefaultListenAddr,
		"Address for the HTTP verification service")

	serveCmd.Flags().String(
		"spy-rpc-host",
		"",
		"Wormhole spy service endpoint (empty = HTTP service only)")

	serveCmd.Flags().IntSlice(
		"chain-ids",
		nil,
		"Source chain IDs to accept from the spy stream (empty = all)")

	serveCmd.Flags().String(
		"emitter-address",
		"",
		"Source emitter address to filter (hex or base58)")

	serveCmd.Flags().String(
		"database-url",
		"",
		"Postgres DSN for the durable replay ledger (empty = in-memory)")

	viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen-addr"))
	viper.BindPFlag("spy_rpc_host", serveCmd.Flags().Lookup("spy-rpc-host"))
	viper.BindPFlag("chain_ids", serveCmd.Flags().Lookup("chain-ids"))
	viper.BindPFlag("emitter_address", serveCmd.Flags().Lookup("emitter-address"))
	viper.BindPFlag("database_url", serveCmd.Flags().Lookup("database-url"))
}

type ServeConfig struct {
	ListenAddr      string
	SpyRPCHost      string
	ChainIDs        []uint16
	EmitterAddress  string
	DatabaseURL     string
	ChainID         uint16
	BootstrapVAA    string
	GuardianKeys    []string
	UpgradeArtifact string
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	logger.Info("Starting VAA verification service")

	// Get flags directly from command (viper bindings conflict across commands)
	emitterAddress, _ := cmd.Flags().GetString("emitter-address")
	chainIDsInt, _ := cmd.Flags().GetIntSlice("chain-ids")

	chainIDs := make([]uint16, len(chainIDsInt))
	for i, id := range chainIDsInt {
		chainIDs[i] = uint16(id)
	}

	config := ServeConfig{
		ListenAddr:      viper.GetString("listen_addr"),
		SpyRPCHost:      viper.GetString("spy_rpc_host"),
		ChainIDs:        chainIDs,
		EmitterAddress:  emitterAddress,
		DatabaseURL:     viper.GetString("database_url"),
		ChainID:         uint16(viper.GetUint32("chain_id")),
		BootstrapVAA:    viper.GetString("bootstrap_vaa"),
		GuardianKeys:    viper.GetStringSlice("guardian_keys"),
		UpgradeArtifact: viper.GetString("upgrade_artifact"),
	}

	if config.BootstrapVAA == "" && len(config.GuardianKeys) == 0 {
		return fmt.Errorf("either --bootstrap-vaa or --guardian-keys is required")
	}

	logger.Info("Configuration",
		zap.String("listenAddr", config.ListenAddr),
		zap.String("spyRPC", config.SpyRPCHost),
		zap.Any("chainIds", config.ChainIDs),
		zap.String("emitterFilter", config.EmitterAddress),
		zap.Uint16("chainId", config.ChainID),
		zap.Bool("persistentLedger", config.DatabaseURL != ""))

	// Pick the replay ledger backing
	var ledger replay.Ledger = replay.NewMemoryLedger()
	if config.DatabaseURL != "" {
		gdb, err := db.Open(config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %v", err)
		}
		if err := db.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("failed to migrate database: %v", err)
		}
		ledger = db.NewClaimLedger(gdb)
		logger.Info("Using Postgres replay ledger")
	}

	stack, err := buildStack(logger, ledger, config.ChainID, config.GuardianKeys, config.BootstrapVAA, config.UpgradeArtifact)
	if err != nil {
		return err
	}

	server := internal.NewServer(logger, stack.processor, config.ListenAddr, stack.promRegistry)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })

	if config.SpyRPCHost != "" {
		spyClient, err := clients.NewSpyClient(logger, config.SpyRPCHost)
		if err != nil {
			return fmt.Errorf("failed to create spy client: %v", err)
		}

		filter, err := internal.NewFilter(config.ChainIDs, config.EmitterAddress)
		if err != nil {
			return err
		}

		listener := internal.NewListener(logger, spyClient, stack.processor, filter)
		defer listener.Close()
		g.Go(func() error { return listener.Start(ctx) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("verifier stopped with error: %v", err)
	}
	return nil
}
