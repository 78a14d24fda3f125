package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrStatus                = errors.New("unexpected response status")
	ErrDependencyUnavailable = errors.New("remote store did not become available")
	ErrNotFound              = errors.New("record not found")
)

// Query selects rows from one table. Eq holds equality filters.
type Query struct {
	Table   string
	Columns []string
	Eq      map[string]interface{}
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the remote collection API the sync adapter depends on
type Store interface {
	Select(ctx context.Context, q Query) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, record interface{}) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch map[string]interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
}

// WaitReady polls probe until it succeeds or retries run out.
// The caller decides whether the missing dependency disables a feature.
func WaitReady(ctx context.Context, probe func(ctx context.Context) error, retries int, interval time.Duration) error {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if lastErr = probe(ctx); lastErr == nil {
			return nil
		}
		if attempt == retries {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrDependencyUnavailable, retries, lastErr)
}
