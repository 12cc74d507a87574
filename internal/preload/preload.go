// Package preload warms a user's synced collections concurrently at
// session start so the first read of each is served from memory.
package preload

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/sync"
)

// Loader fetches one collection's payload for a user. Satisfied by
// sync.Engine.LoadData.
type Loader interface {
	LoadData(ctx context.Context, collection, userID string) (json.RawMessage, error)
}

// result is one collection's preloaded payload or error.
type result struct {
	data json.RawMessage
	err  error
}

// Preloader loads every synced collection for one user in parallel and
// memoizes the outcome. A Preloader belongs to a single session; build
// a fresh one after sign-in or user switch.
type Preloader struct {
	loader Loader
	userID string

	once    gosync.Once
	mu      gosync.Mutex
	results map[string]result
}

// New creates a Preloader for userID.
func New(loader Loader, userID string) *Preloader {
	return &Preloader{
		loader:  loader,
		userID:  userID,
		results: make(map[string]result),
	}
}

// Run loads all synced collections concurrently. It blocks until every
// load finishes and is a no-op after the first call. Individual
// failures are memoized per collection, never aborting the rest.
func (p *Preloader) Run(ctx context.Context) {
	p.once.Do(func() {
		started := time.Now()
		var wg gosync.WaitGroup

		for _, collection := range sync.SyncedCollections() {
			wg.Add(1)
			go func(collection string) {
				defer wg.Done()
				data, err := p.loader.LoadData(ctx, collection, p.userID)
				p.mu.Lock()
				p.results[collection] = result{data: data, err: err}
				p.mu.Unlock()
			}(collection)
		}
		wg.Wait()

		logging.Info("preload completed", map[string]interface{}{
			"user_id":     p.userID,
			"collections": len(p.results),
			"elapsed_ms":  time.Since(started).Milliseconds(),
		})
	})
}

// Get returns the preloaded payload for a collection, falling back to a
// direct load when the collection was not preloaded. Run must have been
// called first for the memoized path to hit.
func (p *Preloader) Get(ctx context.Context, collection string) (json.RawMessage, error) {
	p.mu.Lock()
	res, ok := p.results[collection]
	p.mu.Unlock()
	if ok {
		return res.data, res.err
	}
	return p.loader.LoadData(ctx, collection, p.userID)
}

// Loaded reports whether a collection was preloaded successfully.
func (p *Preloader) Loaded(collection string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[collection]
	return ok && res.err == nil
}
