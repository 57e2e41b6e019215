package utils

import (
	"context"
	"errors"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// ReliableExec acquires a connection from the pool and runs f, retrying with
// exponential backoff until f succeeds, returns a permanent error, or ctx is done.
// Each attempt gets its own tryTimeout.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	cfg := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	return backoff.RetryNotify(func() error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()
		err = f(tryCtx, conn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || errors.Is(err, pgx.ErrNoRows) || isUserPGError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, cfg, func(err error, d time.Duration) {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backoff", d.String()).Msg("ReliableExec retrying")
	})
}

// ReliableExecInTx is ReliableExec with f running inside a CRDB retrying transaction
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn pgx.Tx) error) error {
	return ReliableExec(ctx, pool, tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return f(ctx, tx)
		})
	})
}

// isUserPGError is true for constraint and syntax classes that a retry cannot fix
func isUserPGError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 23: integrity constraint violation, 42: syntax error or access rule violation
	return len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "23" || pgErr.Code[:2] == "42")
}
