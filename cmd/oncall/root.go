package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "oncall",
	Short: "On-call scheduling and escalation engine",
	Long:  `Runs the on-call API server, the escalation worker and schema migrations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return config.SetupLogging(config.App.LogLevel, config.App.LogFormat)
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ONCALL_CONFIG_PATH"), "Path to a YAML config file")
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	if config.App.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pg.PingContext(pingCtx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pg.ExecContext(ctx, "SET TIME ZONE 'UTC'"); err != nil {
		logrus.Warnf("Failed to set timezone to UTC: %v", err)
	}
	logrus.Info("Connected to database")
	return pg, nil
}

// openRedis returns nil when no redis url is configured.
func openRedis(ctx context.Context) (*redis.Client, error) {
	if config.App.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(config.App.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logrus.Info("Connected to redis")
	return client, nil
}
