package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/registry"
	"execution-core/pkg/exchanges/common"
)

// TWAPConfig parameterizes a time-weighted average price job: TotalQty is
// split into equal market-order slices spread across Duration.
type TWAPConfig struct {
	Symbol   string        `json:"symbol"`
	Side     common.Side   `json:"side"`
	TotalQty float64       `json:"total_qty"`
	Duration time.Duration `json:"duration"`
	Interval time.Duration `json:"interval"`
}

// Validate rejects configs that cannot produce a sane slice schedule.
func (c TWAPConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("twap: symbol is required")
	}
	if c.Side != common.SideBuy && c.Side != common.SideSell {
		return fmt.Errorf("twap: side must be BUY or SELL, got %q", c.Side)
	}
	if c.TotalQty <= 0 {
		return fmt.Errorf("twap: total quantity must be positive, got %v", c.TotalQty)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("twap: interval must be positive, got %v", c.Interval)
	}
	if c.Duration < c.Interval {
		return fmt.Errorf("twap: duration %v shorter than interval %v", c.Duration, c.Interval)
	}
	return nil
}

// Slices returns the number of slices: one per interval, rounding up so the
// whole duration is covered.
func (c TWAPConfig) Slices() int {
	return int(math.Ceil(float64(c.Duration) / float64(c.Interval)))
}

// TWAP executes a TWAP job. Slices are market orders; the final slice
// carries the rounding remainder so the quantities sum to TotalQty exactly.
type TWAP struct {
	exec Executor
	reg  *registry.Registry
	bus  *events.Bus
	key  registry.Key
	cfg  TWAPConfig

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// NewTWAP builds the orchestrator; Start launches it.
func NewTWAP(exec Executor, reg *registry.Registry, bus *events.Bus, key registry.Key, cfg TWAPConfig) *TWAP {
	return &TWAP{
		exec:  exec,
		reg:   reg,
		bus:   bus,
		key:   key,
		cfg:   cfg,
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
}

// Start runs the slice schedule in its own goroutine.
func (t *TWAP) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop requests an orderly stop. Already-submitted slices are final; no
// further slices are placed. Safe to call more than once.
func (t *TWAP) Stop() {
	t.stopOnce.Do(func() { close(t.stopC) })
}

// Done is closed when the job reaches a terminal status.
func (t *TWAP) Done() <-chan struct{} { return t.doneC }

func (t *TWAP) run(ctx context.Context) {
	defer close(t.doneC)

	n := t.cfg.Slices()
	sliceQty := t.cfg.TotalQty / float64(n)

	setStatus(t.reg, t.key, registry.StatusRunning, fmt.Sprintf("executing %d slices", n))
	t.bus.Publish(events.EventJobStarted, t.key.String())
	log.Printf("[TWAP] %s: %d slices of %v %s over %v", t.key, n, sliceQty, t.cfg.Symbol, t.cfg.Duration)

	var executed float64
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			t.finishStopped(executed, i, n)
			return
		case <-t.stopC:
			t.finishStopped(executed, i, n)
			return
		default:
		}

		qty := sliceQty
		if i == n-1 {
			qty = t.cfg.TotalQty - executed
		}

		rec, err := placeWithRetry(ctx, t.exec, t.key.String(), common.OrderRequest{
			Symbol: t.cfg.Symbol,
			Side:   t.cfg.Side,
			Type:   common.OrderTypeMarket,
			Qty:    qty,
		})
		if err != nil {
			log.Printf("[TWAP] %s: slice %d/%d failed: %v", t.key, i+1, n, err)
			setFailed(t.reg, t.key, fmt.Sprintf("slice %d/%d: %v", i+1, n, err))
			t.bus.Publish(events.EventJobFailed, t.key.String())
			return
		}
		executed += rec.Qty
		setStatus(t.reg, t.key, registry.StatusRunning,
			fmt.Sprintf("slice %d/%d placed (%v/%v)", i+1, n, executed, t.cfg.TotalQty))

		if i < n-1 {
			if !waitOrStop(ctx, t.stopC, t.cfg.Interval) {
				t.finishStopped(executed, i+1, n)
				return
			}
		}
	}

	log.Printf("[TWAP] %s: complete, executed %v %s", t.key, executed, t.cfg.Symbol)
	_ = t.reg.Update(t.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.LastAction = fmt.Sprintf("completed %d slices", n)
		j.Reason = "completed"
	})
	t.bus.Publish(events.EventJobStopped, t.key.String())
}

func (t *TWAP) finishStopped(executed float64, placed, total int) {
	log.Printf("[TWAP] %s: stopped after %d/%d slices (%v executed)", t.key, placed, total, executed)
	_ = t.reg.Update(t.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.LastAction = fmt.Sprintf("stopped after %d/%d slices", placed, total)
		j.Reason = "stopped by request"
	})
	t.bus.Publish(events.EventJobStopped, t.key.String())
}
