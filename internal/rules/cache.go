// Package rules caches per-symbol exchange filters (tick size, step size,
// minimum notional) for every order-producing component.
package rules

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Source provides fresh rules, typically the exchange gateway.
type Source interface {
	GetSymbolRules(ctx context.Context, symbol string) (common.SymbolRules, error)
}

// Cache is a read-mostly store of symbol rules. Reads hit an immutable
// snapshot; the refresh loop builds a new map and swaps it in atomically,
// so readers never block on a refresh in progress.
type Cache struct {
	src      Source
	interval time.Duration
	snap     atomic.Value // map[string]common.SymbolRules

	// serializes misses and refreshes, not reads
	mu sync.Mutex
}

// NewCache builds a cache refreshed from src every interval.
func NewCache(src Source, interval time.Duration) *Cache {
	c := &Cache{src: src, interval: interval}
	c.snap.Store(map[string]common.SymbolRules{})
	return c
}

// Get returns the rules for symbol, fetching on a miss.
func (c *Cache) Get(ctx context.Context, symbol string) (common.SymbolRules, error) {
	if r, ok := c.snapshot()[symbol]; ok {
		return r, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have filled it while we waited.
	if r, ok := c.snapshot()[symbol]; ok {
		return r, nil
	}

	r, err := c.src.GetSymbolRules(ctx, symbol)
	if err != nil {
		return common.SymbolRules{}, fmt.Errorf("fetch rules for %s: %w", symbol, err)
	}
	if r.StepSize <= 0 {
		return common.SymbolRules{}, fmt.Errorf("exchange returned zero step size for %s", symbol)
	}
	c.store(symbol, r)
	return r, nil
}

// Refresh re-fetches every known symbol and swaps in a new snapshot.
// Symbols that fail keep their previous rules.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.snapshot()
	next := make(map[string]common.SymbolRules, len(old))
	var firstErr error
	for symbol, prev := range old {
		r, err := c.src.GetSymbolRules(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			next[symbol] = prev
			continue
		}
		next[symbol] = r
	}
	c.snap.Store(next)
	return firstErr
}

// Start runs the refresh loop until ctx is done.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Printf("[RULES] refresh error: %v", err)
				}
			}
		}
	}()
}

func (c *Cache) snapshot() map[string]common.SymbolRules {
	return c.snap.Load().(map[string]common.SymbolRules)
}

// store clones the snapshot with one extra entry. Callers hold c.mu.
func (c *Cache) store(symbol string, r common.SymbolRules) {
	old := c.snapshot()
	next := make(map[string]common.SymbolRules, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[symbol] = r
	c.snap.Store(next)
}
