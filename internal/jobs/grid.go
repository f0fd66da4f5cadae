package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/registry"
	"execution-core/pkg/exchanges/common"
)

// GridConfig parameterizes a grid job: Levels evenly spaced limit orders
// between Lower and Upper, buys below the market and sells above it.
type GridConfig struct {
	Symbol       string        `json:"symbol"`
	Lower        float64       `json:"lower"`
	Upper        float64       `json:"upper"`
	Levels       int           `json:"levels"`
	QtyPerLevel  float64       `json:"qty_per_level"`
	PollInterval time.Duration `json:"poll_interval"`
}

// Validate rejects degenerate grids.
func (c GridConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("grid: symbol is required")
	}
	if c.Lower <= 0 || c.Upper <= c.Lower {
		return fmt.Errorf("grid: need 0 < lower < upper, got [%v, %v]", c.Lower, c.Upper)
	}
	if c.Levels < 2 {
		return fmt.Errorf("grid: need at least 2 levels, got %d", c.Levels)
	}
	if c.QtyPerLevel <= 0 {
		return fmt.Errorf("grid: quantity per level must be positive, got %v", c.QtyPerLevel)
	}
	return nil
}

// Prices returns the level prices, evenly spaced from Lower to Upper
// inclusive.
func (c GridConfig) Prices() []float64 {
	spacing := (c.Upper - c.Lower) / float64(c.Levels-1)
	out := make([]float64, c.Levels)
	for i := range out {
		out[i] = c.Lower + spacing*float64(i)
	}
	return out
}

// gridOrder tracks the working order at one level.
type gridOrder struct {
	orderID string
	side    common.Side
}

// Grid runs a grid trading job: seed the ladder around the mark price, then
// replenish the opposite side of each fill so the ladder keeps trading as
// price oscillates inside the band.
type Grid struct {
	exec Executor
	reg  *registry.Registry
	bus  *events.Bus
	key  registry.Key
	cfg  GridConfig

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}

	prices  []float64
	open    map[int]gridOrder   // level index -> working order
	pending map[int]common.Side // levels whose replacement failed, retried next cycle
}

// NewGrid builds the orchestrator; Start launches it.
func NewGrid(exec Executor, reg *registry.Registry, bus *events.Bus, key registry.Key, cfg GridConfig) *Grid {
	return &Grid{
		exec:    exec,
		reg:     reg,
		bus:     bus,
		key:     key,
		cfg:     cfg,
		stopC:   make(chan struct{}),
		doneC:   make(chan struct{}),
		prices:  cfg.Prices(),
		open:    make(map[int]gridOrder),
		pending: make(map[int]common.Side),
	}
}

// Start seeds the grid and begins the replenish loop in a new goroutine.
func (g *Grid) Start(ctx context.Context) {
	go g.run(ctx)
}

// Stop cancels every working order and ends the job. Safe to call more than
// once.
func (g *Grid) Stop() {
	g.stopOnce.Do(func() { close(g.stopC) })
}

// Done is closed when the job reaches a terminal status.
func (g *Grid) Done() <-chan struct{} { return g.doneC }

func (g *Grid) run(ctx context.Context) {
	defer close(g.doneC)

	mark, err := g.exec.MarkPrice(ctx, g.cfg.Symbol)
	if err != nil {
		setFailed(g.reg, g.key, fmt.Sprintf("mark price: %v", err))
		g.bus.Publish(events.EventJobFailed, g.key.String())
		return
	}

	if err := g.seed(ctx, mark); err != nil {
		g.cancelAll(ctx)
		setFailed(g.reg, g.key, fmt.Sprintf("seeding: %v", err))
		g.bus.Publish(events.EventJobFailed, g.key.String())
		return
	}

	setStatus(g.reg, g.key, registry.StatusRunning,
		fmt.Sprintf("seeded %d orders around %v", len(g.open), mark))
	g.bus.Publish(events.EventJobStarted, g.key.String())
	log.Printf("[GRID] %s: %d orders seeded on %s around %v", g.key, len(g.open), g.cfg.Symbol, mark)

	for {
		if !waitOrStop(ctx, g.stopC, g.cfg.PollInterval) {
			g.shutdown(ctx)
			return
		}
		if err := g.replenish(ctx); err != nil {
			g.cancelAll(ctx)
			setFailed(g.reg, g.key, fmt.Sprintf("replenish: %v", err))
			g.bus.Publish(events.EventJobFailed, g.key.String())
			return
		}
	}
}

// seed places the initial ladder: buy limits at levels below the mark, sell
// limits at levels above. With the mark outside the band the ladder is
// one-sided, which is still a valid grid entry.
func (g *Grid) seed(ctx context.Context, mark float64) error {
	for i, price := range g.prices {
		side := common.SideBuy
		if price >= mark {
			side = common.SideSell
		}
		if err := g.placeLevel(ctx, i, side); err != nil {
			return err
		}
	}
	return nil
}

// replenish polls every working order and replaces each filled level with
// an order on the opposite side at the same price, so the ladder always
// carries the configured level count. A replacement that cannot be placed
// records a warning and is retried on the next cycle.
func (g *Grid) replenish(ctx context.Context) error {
	for level, side := range g.pending {
		if err := g.placeLevel(ctx, level, side); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.warn(fmt.Sprintf("level %d still vacant: %v", level, err))
			continue
		}
		delete(g.pending, level)
	}

	filled := 0
	for level, ord := range g.open {
		rec, err := g.exec.GetOrderStatus(ctx, g.cfg.Symbol, ord.orderID)
		if err != nil {
			log.Printf("[GRID] %s: status poll for level %d: %v", g.key, level, err)
			continue
		}
		if !rec.Status.Terminal() {
			continue
		}
		delete(g.open, level)

		side := ord.side // canceled or expired externally: restore as-is
		if rec.Status == common.StatusFilled {
			filled++
			// A fill flips the level: a bought level is re-armed as a
			// sell at the same price, a sold one as a buy.
			if ord.side == common.SideBuy {
				side = common.SideSell
			} else {
				side = common.SideBuy
			}
		}
		if err := g.placeLevel(ctx, level, side); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.warn(fmt.Sprintf("replenish level %d: %v", level, err))
			g.pending[level] = side
		}
	}
	if filled > 0 {
		setStatus(g.reg, g.key, registry.StatusRunning,
			fmt.Sprintf("%d fills replenished, %d orders working", filled, len(g.open)))
	}
	return nil
}

// warn records a non-fatal problem on the job record without failing it.
func (g *Grid) warn(msg string) {
	log.Printf("[GRID] %s: %s", g.key, msg)
	_ = g.reg.Update(g.key, func(j *registry.Job) {
		j.Warning = msg
	})
	g.bus.Publish(events.EventJobWarning, g.key.String()+": "+msg)
}

func (g *Grid) placeLevel(ctx context.Context, level int, side common.Side) error {
	rec, err := placeWithRetry(ctx, g.exec, g.key.String(), common.OrderRequest{
		Symbol: g.cfg.Symbol,
		Side:   side,
		Type:   common.OrderTypeLimit,
		Qty:    g.cfg.QtyPerLevel,
		Price:  g.prices[level],
	})
	if err != nil {
		return fmt.Errorf("level %d (%s at %v): %w", level, side, g.prices[level], err)
	}
	g.open[level] = gridOrder{orderID: rec.ExchangeOrderID, side: side}
	return nil
}

// shutdown handles an operator stop: cancel the whole ladder.
func (g *Grid) shutdown(ctx context.Context) {
	setStatus(g.reg, g.key, registry.StatusStopping, fmt.Sprintf("canceling %d orders", len(g.open)))

	if err := g.cancelAll(ctx); err != nil {
		setFailed(g.reg, g.key, fmt.Sprintf("stop requested but cancel failed: %v", err))
		g.bus.Publish(events.EventJobFailed, g.key.String())
		return
	}
	log.Printf("[GRID] %s: stopped, ladder canceled", g.key)
	_ = g.reg.Update(g.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.Reason = "stopped by request"
	})
	g.bus.Publish(events.EventJobStopped, g.key.String())
}

func (g *Grid) cancelAll(ctx context.Context) error {
	var firstErr error
	for level, ord := range g.open {
		if err := cancelWithRetry(ctx, g.exec, g.cfg.Symbol, ord.orderID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(g.open, level)
	}
	return firstErr
}
