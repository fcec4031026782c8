package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	JWTSecret   string `mapstructure:"jwt_secret"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"

	Notification NotificationConfig `mapstructure:"notification"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Rotation     RotationConfig     `mapstructure:"rotation"`
}

type NotificationConfig struct {
	Backend string        `mapstructure:"backend"` // redis, pgmq, none
	Queue   string        `mapstructure:"queue"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EscalationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type RotationConfig struct {
	DefaultWeeksAhead int `mapstructure:"default_weeks_ahead"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// .env is optional; production passes real environment variables
	if err := godotenv.Load(); err == nil {
		logrus.Info("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("notification.backend", "pgmq")
	v.SetDefault("notification.queue", "incident_notifications")
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("escalation.poll_interval", "30s")
	v.SetDefault("escalation.batch_size", 100)
	v.SetDefault("escalation.concurrency", 4)
	v.SetDefault("rotation.default_weeks_ahead", 52)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("oncall.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("oncall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Standard names used by docker/deploy tooling
	_ = v.BindEnv("database_url", "DATABASE_URL", "ONCALL_DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL", "ONCALL_REDIS_URL")
	_ = v.BindEnv("port", "PORT", "ONCALL_PORT")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET", "ONCALL_JWT_SECRET")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.Info("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		logrus.Infof("Loaded config from: %s", v.ConfigFileUsed())
	}

	return v.Unmarshal(&App)
}

// SetupLogging applies the configured level and format to the standard logrus logger.
func SetupLogging(level, format string) error {
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
