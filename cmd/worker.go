package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-core/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Run the maintenance worker pool that expires overdue payments and repairs missing loyalty credits.`,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue payments and repair loyalty credits",
	Long:  `Sweep once and exit, or keep sweeping on the configured interval with --loop.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSweep(); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
			os.Exit(1)
		}
	},
}

var (
	sweepLoop  bool
	maxWorkers int
)

func runSweep() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if maxWorkers > 0 {
		cfg.Worker.MaxWorkers = maxWorkers
	}

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	poolCtx, cancel := context.WithCancel(ctx)
	pool := worker.NewPool(worker.Config{
		MaxWorkers:   cfg.Worker.MaxWorkers,
		JobQueueSize: cfg.Worker.JobQueueSize,
	}, worker.NewJobHandler(app.Purchases, app.Logger), app.Logger)
	pool.Start(poolCtx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	scheduler := worker.NewScheduler(app.Payments, pool, cfg.Worker.SweepInterval, cfg.Worker.BatchSize, app.Logger)

	if sweepLoop {
		scheduler.Run(ctx)
		return nil
	}

	queued, err := scheduler.Sweep(ctx)
	if err != nil {
		return err
	}
	if err := pool.Drain(ctx); err != nil {
		return err
	}

	stats := pool.Stats()
	app.Logger.Info("sweep finished",
		"queued", queued,
		"processed", stats.Processed,
		"failed", stats.Failed)
	return nil
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepLoop, "loop", false, "keep sweeping on the configured interval")
	sweepCmd.Flags().IntVar(&maxWorkers, "workers", 0, "override worker.max_workers")

	workerCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(workerCmd)
}
