package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/receipt-intake/internal/app"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
)

var rootCmd = &cobra.Command{
	Use:   "receiptctl",
	Short: "Receipt intake CLI",
	Long: `receiptctl runs the receipt ingestion pipeline locally.

validate checks a single file offline. ingest and watch push files through the
full pipeline (validation, authenticity, extraction, duplicate check, storage,
ledger). list, stats, export and link operate on stored receipts, which only
persist across runs when DB_URL points at a database.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().String("owner", "", "owner id the receipts belong to")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("RECEIPTCTL")
	viper.AutomaticEnv()
}

func registerCommands() {
	rootCmd.AddCommand(
		validateCmd(),
		ingestCmd(),
		watchCmd(),
		listCmd(),
		statsCmd(),
		exportCmd(),
		linkCmd(),
	)
}

func requireOwner() (string, error) {
	owner := viper.GetString("owner")
	if owner == "" {
		return "", errors.New("--owner is required")
	}
	return owner, nil
}

// withApp loads configuration from the environment and builds the pipeline.
func withApp(ctx context.Context, needLLM bool, fn func(context.Context, *app.App) error) error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Log.Level = viper.GetString("log-level")
	if needLLM && cfg.LLM.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
