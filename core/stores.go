package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles the repositories selected by cfg.StoreDriver.
type Stores struct {
	Accounts AccountRepository
	Leaves   LeaveRepository
	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
}

// OpenStores connects the configured store. For PostgreSQL it also applies
// pending migrations.
func OpenStores(ctx context.Context, cfg Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		slog.Warn("using in-memory store; data is lost on exit")
		return &Stores{Accounts: NewMemoryAccountRepository(), Leaves: NewMemoryLeaveRepository()}, nil
	case StoreDriverPostgres:
		pool, err := Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := Migrate(ctx, cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, err
		}
		return &Stores{
			Accounts: NewPgAccountRepository(pool),
			Leaves:   NewPgLeaveRepository(pool),
			Pool:     pool,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store_driver %q", ErrInvalidInput, cfg.StoreDriver)
	}
}

// Ping reports whether the backing database answers.
func (s *Stores) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// NewTokenServiceFromConfig builds the token service. Without secret_key a
// random per-process key is used, which invalidates tokens on restart.
func NewTokenServiceFromConfig(cfg Config) (*TokenService, error) {
	secret := []byte(cfg.SecretKey)
	if len(secret) == 0 {
		var err error
		if secret, err = RandomSecret(32); err != nil {
			return nil, err
		}
		slog.Warn("secret_key not set; using a random signing key, tokens will not survive a restart")
	}
	return NewTokenService(secret, time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute)
}
