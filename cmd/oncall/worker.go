package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/router"
	"github.com/phonginreallife/oncall/workers"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the escalation timeout worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pg, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()

		redisClient, err := openRedis(ctx)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
		}

		svc, err := router.NewServices(pg, redisClient, config.App)
		if err != nil {
			return err
		}

		worker := workers.NewEscalationWorker(pg, svc.Escalation, config.App.Escalation.PollInterval,
			config.App.Escalation.BatchSize, config.App.Escalation.Concurrency)
		worker.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
