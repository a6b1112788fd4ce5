package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msomdec/daily-report/internal/config"
	"github.com/msomdec/daily-report/internal/domain"
	"github.com/msomdec/daily-report/internal/mail"
	"github.com/msomdec/daily-report/internal/repository/postgres"
	"github.com/msomdec/daily-report/internal/repository/sqlite"
	"github.com/msomdec/daily-report/internal/service"
)

// newLogger builds the process logger. The text format writes human-readable
// lines to stdout and JSON to stderr.
func newLogger(cfg config.LogConfig, stdout, stderr io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(stdout, opts)), nil
	}
	return slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(stdout, opts),
		slog.NewJSONHandler(stderr, opts),
	)), nil
}

// loadConfig loads settings and installs the configured default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, os.Stdout, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

// openDatabase connects to the configured user store.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (domain.Database, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// newRateLimiter returns the configured limiter and a cleanup func. A nil
// limiter disables rate limiting.
func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig) (service.RateLimiter, func(), error) {
	switch cfg.Backend {
	case "memory":
		tb := service.NewTokenBucket(cfg.Rate, cfg.Burst)
		return tb, tb.Stop, nil
	case "redis":
		client, err := service.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		limiter := service.NewRedisLimiter(client, "dailyreport:ratelimit:", cfg.MaxAttempts, cfg.Window)
		return limiter, func() { client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// newResetNotifier returns the configured reset ticket delivery.
func newResetNotifier(cfg config.Config) domain.ResetNotifier {
	if cfg.Mail.Backend == "smtp" {
		return mail.NewSender(cfg.Mail, cfg.Auth.ResetURL)
	}
	return mail.NewLogSender(cfg.Auth.ResetURL, slog.Default())
}
