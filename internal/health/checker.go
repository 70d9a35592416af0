package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/settlrhq/settlr/internal/chain"
)

// Probes implements Checker against the live dependencies. Any nil dependency
// reports healthy so partial deployments (e.g. no relay, no RPC) stay ready.
type Probes struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Ledger chain.Ledger
}

func (p Probes) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

func (p Probes) PingRPC(ctx context.Context, timeout time.Duration) error {
	if p.Ledger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ledger.Health(ctx)
}
