package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ledger-cli/internal/monitoring"
)

var workerNoMonitor bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll for pending documents and advance them",
	Long:  "Runs the pipeline worker until interrupted. Several workers may run against the same store; document leases keep each document on one worker at a time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return env.Orchestrator.Run(gctx)
		})

		if !workerNoMonitor {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		err = g.Wait()
		zap.L().Info("worker stopped")
		return err
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerNoMonitor, "no-monitor", false, "disable the stalled-document checker")
	rootCmd.AddCommand(workerCmd)
}
