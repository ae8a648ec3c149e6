package cmd

import (
	"fmt"
	"os"
	"strings"

	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vaa-verifier",
	Short: "Guardian-signature verification and replay protection for Wormhole VAAs",
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	rootCmd.PersistentFlags().Bool(
		"debug",
		false,
		"Enables debug output.")

	rootCmd.PersistentFlags().Bool(
		"json",
		false,
		"Enables structured logging in JSON format.")

	rootCmd.PersistentFlags().Uint16(
		"chain-id",
		0,
		"Wormhole chain ID of this deployment; governance VAAs targeting other chains are rejected (0 accepts only chain-agnostic governance)")

	rootCmd.PersistentFlags().String(
		"bootstrap-vaa",
		"",
		"Bootstrap guardian-set-upgrade VAA, hex or @file")

	rootCmd.PersistentFlags().StringSlice(
		"guardian-keys",
		nil,
		"Guardian key hashes (20-byte hex) to bootstrap set 0 directly, for dev deployments")

	rootCmd.PersistentFlags().String(
		"upgrade-artifact",
		"",
		"Path to the candidate artifact checked against ContractUpgrade approvals")

	// Bind flags to viper for env variable support
	viper.BindPFlag("chain_id", rootCmd.PersistentFlags().Lookup("chain-id"))
	viper.BindPFlag("bootstrap_vaa", rootCmd.PersistentFlags().Lookup("bootstrap-vaa"))
	viper.BindPFlag("guardian_keys", rootCmd.PersistentFlags().Lookup("guardian-keys"))
	viper.BindPFlag("upgrade_artifact", rootCmd.PersistentFlags().Lookup("upgrade-artifact"))

	cobra.OnInitialize(initConfig)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("verifier")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func printBanner() {
	colours := []string{
		"\033[38;5;81m", // Cyan
		"\033[38;5;75m", // Light Blue
		"\033[38;5;69m", // Sky Blue
		"\033[38;5;63m", // Dodger Blue
		"\033[38;5;57m", // Deep Sky Blue
		"\033[38;5;51m", // Cornflower Blue
	}
	banner := `
 ____   ____  _____    _____     ____   ____            .__  _____.__
 \   \ /   / /  _  \  /  _  \    \   \ /   /____________|__|/ ____\__| ___________
  \   Y   / /  /_\  \/  /_\  \    \   Y   // __ \_  __ \  \   __\|  |/ __ \_  __ \
   \     / /    |    \    |    \    \     /\  ___/|  | \/  ||  |  |  \  ___/|  | \/
    \___/  \____|__  /\____|__  /    \___/  \___  >__|  |__||__|  |__|\___  >__|
                   \/         \/                \/                        \/
`
	lines := strings.Split(banner, "\n")

	// remove empty lines
	for i := 0; i < len(lines); i++ {
		if lines[i] == "" {
			lines = append(lines[:i], lines[i+1:]...)
			i--
		}
	}

	for i, line := range lines {
		fmt.Printf("%s%s\n", colours[i%len(colours)], line)
	}

	fmt.Println("\033[0m") // Reset
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Configure JSON output if requested
	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	// Replace the global logger
	zap.ReplaceGlobals(logger)

	return logger
}
