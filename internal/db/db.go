package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens the pooled connection the worker session factory draws
// short-lived transactional sessions from. Never used for LISTEN — see
// NewListenerConn.
func NewPool(ctx context.Context, pcfg *pgxpool.Config) (*pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewListenerConn opens a single dedicated connection, bypassing the
// pool entirely. Pooled connections cannot reliably receive
// asynchronous server notifications because the pool may hand the same
// physical socket to a different caller between a LISTEN and the
// notification arriving; the listener needs exclusive, permanent
// ownership of one socket for the lifetime of the system.
func NewListenerConn(ctx context.Context, connString string) (*pgx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(connectCtx, connString)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(connectCtx); err != nil {
		_ = conn.Close(connectCtx)
		return nil, err
	}

	return conn, nil
}
