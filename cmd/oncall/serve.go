package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/router"
	"github.com/phonginreallife/oncall/workers"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run the escalation worker in this process")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.App.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable (or config) is required")
	}

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

	if withWorker {
		worker := workers.NewEscalationWorker(pg, svc.Escalation, config.App.Escalation.PollInterval,
			config.App.Escalation.BatchSize, config.App.Escalation.Concurrency)
		go worker.Run(ctx)
	}

	server := &http.Server{
		Addr:              ":" + config.App.Port,
		Handler:           router.NewGinRouter(pg, svc, config.App.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
