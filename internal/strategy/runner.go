package strategy

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

// Executor is the slice of the execution engine the runner needs.
type Executor interface {
	PlaceJobOrder(ctx context.Context, jobKey string, req common.OrderRequest) (common.OrderRecord, error)
	Position(ctx context.Context, symbol string) (common.Position, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error)
}

// PriceFeed delivers live mark-price ticks, normally the broadcast hub.
type PriceFeed interface {
	Subscribe(ctx context.Context, symbol string) (<-chan common.PriceTick, func())
}

// Config parameterizes one EMA-crossover strategy.
type Config struct {
	Name           string  `yaml:"name" json:"name"`
	Symbol         string  `yaml:"symbol" json:"symbol"`
	Qty            float64 `yaml:"qty" json:"qty"`
	FastPeriod     int     `yaml:"fast_period" json:"fast_period"`
	SlowPeriod     int     `yaml:"slow_period" json:"slow_period"`
	WarmupInterval string  `yaml:"warmup_interval" json:"warmup_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.FastPeriod == 0 {
		c.FastPeriod = 9
	}
	if c.SlowPeriod == 0 {
		c.SlowPeriod = 21
	}
	if c.WarmupInterval == "" {
		c.WarmupInterval = "1m"
	}
}

// Validate rejects configs that cannot produce a crossover signal.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy: name is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("strategy: symbol is required")
	}
	if c.Qty <= 0 {
		return fmt.Errorf("strategy: quantity must be positive, got %v", c.Qty)
	}
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 {
		return fmt.Errorf("strategy: periods must be positive")
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("strategy: fast period %d must be below slow period %d", c.FastPeriod, c.SlowPeriod)
	}
	return nil
}

const flattenAttempts = 3

type signal int

const (
	signalNone signal = iota
	signalLong
	signalShort
)

// Runner evaluates an EMA crossover on live ticks and trades the flips. A
// golden cross targets a long position of Qty, a death cross a short of the
// same size; the opposite position is flattened first with a reduce-only
// market order.
type Runner struct {
	exec Executor
	feed PriceFeed
	reg  *registry.Registry
	bus  *events.Bus
	key  registry.Key
	cfg  Config

	fast *EMA
	slow *EMA
	last signal

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// NewRunner builds the runner; Start launches it.
func NewRunner(exec Executor, feed PriceFeed, reg *registry.Registry, bus *events.Bus, key registry.Key, cfg Config) *Runner {
	cfg.ApplyDefaults()
	return &Runner{
		exec:  exec,
		feed:  feed,
		reg:   reg,
		bus:   bus,
		key:   key,
		cfg:   cfg,
		fast:  NewEMA(cfg.FastPeriod),
		slow:  NewEMA(cfg.SlowPeriod),
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
}

// Start warms up and begins evaluating in a new goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop requests the ordered shutdown: stop evaluating, flatten any open
// position, then report STOPPED. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopC) })
}

// Done is closed when the runner reaches a terminal status.
func (r *Runner) Done() <-chan struct{} { return r.doneC }

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneC)

	if err := r.warmup(ctx); err != nil {
		r.fail(fmt.Sprintf("warmup: %v", err))
		return
	}

	ticks, unsub := r.feed.Subscribe(ctx, r.cfg.Symbol)
	defer func() { unsub() }()

	setRunning := func(action string) {
		_ = r.reg.Update(r.key, func(j *registry.Job) {
			j.Status = registry.StatusRunning
			j.LastAction = action
		})
	}
	setRunning(fmt.Sprintf("evaluating ema %d/%d on %s", r.cfg.FastPeriod, r.cfg.SlowPeriod, r.cfg.Symbol))
	r.bus.Publish(events.EventJobStarted, r.key.String())
	log.Printf("[STRAT] %s: running ema %d/%d on %s", r.key, r.cfg.FastPeriod, r.cfg.SlowPeriod, r.cfg.Symbol)

	for {
		select {
		case <-ctx.Done():
			r.shutdown(context.Background())
			return
		case <-r.stopC:
			r.shutdown(ctx)
			return
		case tick, ok := <-ticks:
			if !ok {
				// Hub closed the channel; resubscribe.
				unsub()
				ticks, unsub = r.feed.Subscribe(ctx, r.cfg.Symbol)
				continue
			}
			sig := r.evaluate(tick.Price)
			if sig == signalNone {
				// Liveness: operators see the runner working even when
				// no cross fires.
				setRunning(fmt.Sprintf("evaluated %v, no cross", tick.Price))
				continue
			}
			if err := r.trade(ctx, sig); err != nil {
				log.Printf("[STRAT] %s: trade on signal failed: %v", r.key, err)
				r.fail(fmt.Sprintf("trade: %v", err))
				return
			}
			setRunning(fmt.Sprintf("flipped %s at %v", sideFor(sig), tick.Price))
		}
	}
}

// warmup seeds both averages from recent closed candles so the first live
// tick already has history behind it.
func (r *Runner) warmup(ctx context.Context) error {
	limit := r.cfg.SlowPeriod + r.cfg.FastPeriod
	klines, err := r.exec.Klines(ctx, r.cfg.Symbol, r.cfg.WarmupInterval, limit)
	if err != nil {
		return err
	}
	if len(klines) < r.cfg.SlowPeriod {
		return fmt.Errorf("need %d candles, exchange returned %d", r.cfg.SlowPeriod, len(klines))
	}
	for _, k := range klines {
		r.fast.Update(k.Close)
		r.slow.Update(k.Close)
	}
	// Record the starting relation so warm-up history never fires a trade.
	if r.fast.Value() > r.slow.Value() {
		r.last = signalLong
	} else {
		r.last = signalShort
	}
	return nil
}

// evaluate feeds one price and reports a crossover, if any.
func (r *Runner) evaluate(price float64) signal {
	fast := r.fast.Update(price)
	slow := r.slow.Update(price)
	if !r.fast.Ready() || !r.slow.Ready() {
		return signalNone
	}

	var now signal
	if fast > slow {
		now = signalLong
	} else {
		now = signalShort
	}
	if now == r.last {
		return signalNone
	}
	r.last = now
	return now
}

// trade moves the position to the signal's side: flatten whatever is open
// against it, then open Qty in the signal direction.
func (r *Runner) trade(ctx context.Context, sig signal) error {
	pos, err := r.exec.Position(ctx, r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("query position: %w", err)
	}

	side := sideFor(sig)
	aligned := (sig == signalLong && pos.Amount > 0) || (sig == signalShort && pos.Amount < 0)
	if aligned {
		return nil
	}
	if pos.Amount != 0 {
		if err := r.flatten(ctx, pos); err != nil {
			return err
		}
	}

	_, err = r.exec.PlaceJobOrder(ctx, r.key.String(), common.OrderRequest{
		Symbol: r.cfg.Symbol,
		Side:   side,
		Type:   common.OrderTypeMarket,
		Qty:    r.cfg.Qty,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", side, err)
	}
	log.Printf("[STRAT] %s: opened %s %v %s", r.key, side, r.cfg.Qty, r.cfg.Symbol)
	return nil
}

// flatten closes pos with a reduce-only market order, retrying failures
// with doubling backoff.
func (r *Runner) flatten(ctx context.Context, pos common.Position) error {
	side := common.SideSell
	if pos.Amount < 0 {
		side = common.SideBuy
	}
	req := common.OrderRequest{
		Symbol:     r.cfg.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Qty:        math.Abs(pos.Amount),
		ReduceOnly: true,
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= flattenAttempts; attempt++ {
		if _, err := r.exec.PlaceJobOrder(ctx, r.key.String(), req); err == nil {
			log.Printf("[STRAT] %s: flattened %v %s", r.key, pos.Amount, r.cfg.Symbol)
			return nil
		} else {
			lastErr = err
		}
		if attempt < flattenAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("flatten %v %s after %d attempts: %w", pos.Amount, r.cfg.Symbol, flattenAttempts, lastErr)
}

// shutdown is the ordered stop: no more evaluation, then query the position
// and flatten it, and only then report STOPPED. A position that cannot be
// flattened leaves the job FAILED for manual intervention.
func (r *Runner) shutdown(ctx context.Context) {
	setStopping := func(action string) {
		_ = r.reg.Update(r.key, func(j *registry.Job) {
			j.Status = registry.StatusStopping
			j.LastAction = action
		})
	}
	setStopping("querying position")

	pos, err := r.exec.Position(ctx, r.cfg.Symbol)
	if err != nil {
		r.fail(fmt.Sprintf("stop requested but position query failed: %v", err))
		return
	}
	if pos.Amount != 0 {
		setStopping(fmt.Sprintf("flattening %v %s", pos.Amount, r.cfg.Symbol))
		if err := r.flatten(ctx, pos); err != nil {
			r.fail(fmt.Sprintf("stop requested but position not flat: %v; close manually", err))
			return
		}
	}

	log.Printf("[STRAT] %s: stopped flat", r.key)
	_ = r.reg.Update(r.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.Reason = "stopped by request"
	})
	r.bus.Publish(events.EventJobStopped, r.key.String())
}

func (r *Runner) fail(reason string) {
	_ = r.reg.Update(r.key, func(j *registry.Job) {
		j.Status = registry.StatusFailed
		j.Reason = reason
	})
	r.bus.Publish(events.EventJobFailed, r.key.String())
}

func sideFor(sig signal) common.Side {
	if sig == signalLong {
		return common.SideBuy
	}
	return common.SideSell
}
