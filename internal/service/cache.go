package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// defaultSideEffectTimeout bounds detached cache and audit writes.
const defaultSideEffectTimeout = 5 * time.Second

// readJSON loads key from the cache. A miss returns domain.ErrNotFound; an
// unreadable or malformed entry returns a *domain.CacheError.
func readJSON[T any](ctx context.Context, kv domain.KVStore, key string) (T, error) {
	var v T
	if kv == nil {
		return v, domain.ErrNotFound
	}
	raw, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return v, err
		}
		return v, &domain.CacheError{Key: key, Err: err}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, &domain.CacheError{Key: key, Err: fmt.Errorf("malformed entry: %w", err)}
	}
	return v, nil
}

// setJSON stores v under key.
func setJSON(ctx context.Context, kv domain.KVStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return &domain.CacheError{Key: key, Err: err}
	}
	return nil
}

// detached runs side effects that must not hold up a response. Each task
// gets a context that survives the caller's cancellation but carries its
// values, bounded by timeout.
type detached struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
}

func newDetached(timeout time.Duration, logger *slog.Logger) *detached {
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	return &detached{timeout: timeout, logger: logger}
}

func (d *detached) Go(ctx context.Context, task string, fn func(context.Context) error) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Go(func() {
		defer cancel()
		if err := fn(bg); err != nil {
			d.logger.WarnContext(bg, "side effect failed",
				slog.String("task", task),
				slog.String("error", err.Error()),
			)
		}
	})
}

// writeJSON stores v under key in the background.
func (d *detached) writeJSON(ctx context.Context, kv domain.KVStore, key string, v any) {
	if kv == nil {
		return
	}
	d.Go(ctx, "cache "+key, func(ctx context.Context) error {
		return setJSON(ctx, kv, key, v)
	})
}

// Wait blocks until every detached task has finished.
func (d *detached) Wait() { d.wg.Wait() }
