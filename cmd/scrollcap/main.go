package main

import (
	"fmt"
	"os"

	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage/redis"
	"github.com/rs/zerolog"
)

func main() {
	Execute()
}

func openStorage(cfg *config.Config, opts ...redis.Option) (*redis.Store, error) {
	storageType := cfg.Storage.Type
	if storageType == "" {
		storageType = "redis"
	}

	opts = append([]redis.Option{redis.WithDefaultGlobalLimit(cfg.Settings.DefaultGlobalLimit)}, opts...)

	switch storageType {
	case "redis":
		return redis.Open(cfg.Storage.Redis, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Interventions are rendered on stdout, so logs go to stderr
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// quietLogger is used by the one-shot commands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
