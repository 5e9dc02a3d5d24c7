package commands

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/atmx/settlement-engine/internal/settlement"
	"github.com/atmx/settlement-engine/internal/store"
)

var saveRun bool

var runCmd = &cobra.Command{
	Use:   "run <request.json>",
	Short: "Compute a netted settlement run",
	Long: `Reads a settlement request {valuation_date, epsilon?, facility, trades},
nets every trade's cash flows and prints the run.

With --save the run is stored in DATABASE_URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettle,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&saveRun, "save", false, "store the run in DATABASE_URL")
}

func runSettle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var req settlement.SettleRequest
	if err := readRequest(cmd, args[0], &req); err != nil {
		return err
	}

	var st store.Store = store.NewMemoryStore()
	if saveRun {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("--save requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
	}

	svc := settlement.NewService(st, engine, nil)
	run, err := svc.Settle(ctx, req)
	if err != nil {
		return err
	}
	if saveRun {
		slog.Info("settlement run stored", "run_id", run.ID)
	}
	return printJSON(cmd, run)
}
