// Package app builds the components shared by the server and worker binaries
// from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/nadmax/imagegen/internal/config"
	"github.com/nadmax/imagegen/internal/notify"
	"github.com/nadmax/imagegen/internal/provider"
	"github.com/nadmax/imagegen/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		s, err := store.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
		return s, nil
	case config.BackendPostgres:
		s, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("Connected to Postgres")
		return s, nil
	case config.BackendMemory:
		logger.Info("Using in-memory task store")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func NewProviderClient(cfg *config.Config) *provider.Client {
	return provider.NewClient(cfg.ProviderURL, cfg.ProviderToken,
		provider.WithTimeout(cfg.ProviderTimeout),
		provider.WithCallbackURL(cfg.CallbackURL()),
	)
}

// NewNotifier always logs completions and also mails them when SendGrid is configured.
func NewNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}

	if cfg.EmailEnabled() {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			APIKey:      cfg.Notify.SendGridAPIKey,
			FromName:    cfg.Notify.FromName,
			FromAddress: cfg.Notify.FromAddress,
			To:          cfg.Notify.To,
		}, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, email)
	}

	return notifiers, nil
}
