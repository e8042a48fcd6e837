package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// entitlementsLockKey serializes migrate runs across replicas.
const entitlementsLockKey int64 = 7_305_118_442

const lockPollInterval = 500 * time.Millisecond

var ErrMigrationLockTimeout = errors.New("migration_lock_timeout")

type unlockFunc func(ctx context.Context) error

// acquireAdvisoryLock pins one connection and waits on it until the session
// lock is granted or ctx ends. Advisory locks belong to the session, so the
// unlock has to run on the same connection.
func acquireAdvisoryLock(ctx context.Context, db *sql.DB) (unlockFunc, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve lock connection: %w", err)
	}

	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", entitlementsLockKey).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrMigrationLockTimeout, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}

	return func(unlockCtx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", entitlementsLockKey).Scan(&released); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		if !released {
			return errors.New("advisory lock was not held by this session")
		}
		return nil
	}, nil
}
