package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	appconfig "github.com/wolfman30/agenda-ai-platform/internal/config"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client. When verify is true a
// ping is issued and its failure is returned.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, verify bool) (*redis.Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("bootstrap: REDIS_ADDR is required")
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client, nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bootstrap: redis ping: %w", err)
	}
	return client, nil
}

// BuildPostgresPool connects to DATABASE_URL.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildCalendar returns the Google Calendar adapter, or the in-memory
// calendar when no service-account credentials are configured.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Calendar, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.GoogleCredentialsJSON) == "" {
		logger.Warn("GOOGLE_CREDENTIALS_JSON not set; using in-memory calendar")
		return calendar.NewMemory(), nil
	}
	g, err := calendar.NewGoogle(ctx, calendar.GoogleConfig{
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		Location:        cfg.Location(),
		Timeout:         cfg.ExternalTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("google calendar initialized", "timezone", cfg.Timezone)
	return g, nil
}
