package pgorders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

// Connect keeps calling New until Postgres accepts the connection or the
// attempts run out. The compose stack starts the binaries before the database
// is ready.
func Connect(ctx context.Context, connString string, maxAttempts uint64) (*Storage, error) {
	if maxAttempts == 0 {
		maxAttempts = 30
	}
	b := retry.NewExponential(250 * time.Millisecond)
	b = retry.WithCappedDuration(2*time.Second, b)
	b = retry.WithMaxRetries(maxAttempts-1, b)

	var st *Storage
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		s, err := New(connString)
		if err != nil {
			slog.Warn("postgres not ready", "attempt", attempt, "error", err.Error())
			return retry.RetryableError(err)
		}
		st = s
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "postgres is not ready after %d attempts", attempt)
	}
	return st, nil
}

// ConnString builds a pgx URL; an empty sslMode means disable.
func ConnString(host string, port int, user, password, dbName, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, dbName, sslMode)
}
