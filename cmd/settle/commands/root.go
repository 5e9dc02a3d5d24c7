// Package commands is the settle CLI: batch settlement runs, per-trade cash
// flows and present values computed from JSON request files.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/pricing"
)

var (
	// Global flags
	epsilonFlag string
	verbose     bool

	cfg    *config.Config
	engine *pricing.Engine
)

var rootCmd = &cobra.Command{
	Use:   "settle",
	Short: "Loan trade settlement calculator",
	Long: `Computes settlement cash flows for loan trades from JSON request files.

Request files use the same bodies as the HTTP API. Pass "-" to read stdin.

Examples:
  settle run request.json
  settle run request.json --save
  settle cashflows trade.json --epsilon 0.01
  settle pv position.json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		params := pricing.Params{
			Epsilon:                  cfg.Epsilon,
			CarryRepriceThreshold:    cfg.CarryRepriceThreshold,
			MaxCompressionIterations: cfg.MaxCompressionIterations,
		}
		if epsilonFlag != "" {
			eps, err := decimal.NewFromString(epsilonFlag)
			if err != nil {
				return fmt.Errorf("--epsilon: %w", err)
			}
			if eps.IsNegative() {
				return fmt.Errorf("--epsilon must not be negative")
			}
			params.Epsilon = eps
		}
		engine = pricing.NewEngine(daycount.Standard{}, params, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&epsilonFlag, "epsilon", "", "override SETTLEMENT_EPSILON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// readRequest decodes a JSON request from path, or stdin for "-".
func readRequest(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
