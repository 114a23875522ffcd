package rallysync

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/rallysync/pkg/errors"
)

// Cleanup stops every worker, discards in-flight results and closes every
// event subscription. Calls after the first return errors.ErrClosed.
func (r *Registry) Cleanup() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrClosed
	}
	r.closed = true
	workers := make([]*worker, 0, len(r.collections))
	for name, c := range r.collections {
		if c.worker != nil {
			workers = append(workers, c.worker)
			c.worker = nil
		}
		delete(r.collections, name)
	}
	r.mu.Unlock()

	// stop workers concurrently; each waits for its own ticker loop
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()

	r.stop()
	<-r.bus.Done()

	r.logger.Info().Int("workers", len(workers)).Msg("Registry cleaned up")
	return nil
}

// syncAll fans sync out over names. Call-level failures (cancellation, a
// collection removed mid-call) abort the group; failed passes are joined
// into the returned error alongside the statuses.
func syncAll(ctx context.Context, names []CollectionName, syncOne func(context.Context, CollectionName) (SyncStatus, error)) (map[CollectionName]SyncStatus, error) {
	var (
		mu       sync.Mutex
		results  = make(map[CollectionName]SyncStatus, len(names))
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			status, err := syncOne(gctx, name)
			var (
				syncErr   *errors.SyncError
				configErr *errors.ConfigError
			)
			switch {
			case err == nil:
			case errors.As(err, &syncErr):
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			case errors.IsNotFound(err), errors.As(err, &configErr):
				// removed or disabled while fanning out
				return nil
			default:
				return err
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(failures...)
}
