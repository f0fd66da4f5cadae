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

// OCOConfig parameterizes a one-cancels-other exit pair. The venue has no
// native OCO for futures, so the pair is simulated: both legs sit on the
// exit side as reduce-only orders and a poll loop cancels the survivor once
// one leg fills.
type OCOConfig struct {
	Symbol          string        `json:"symbol"`
	Side            common.Side   `json:"side"` // exit side: SELL closes a long
	Qty             float64       `json:"qty"`
	TakeProfitPrice float64       `json:"take_profit_price"`
	StopPrice       float64       `json:"stop_price"`
	PollInterval    time.Duration `json:"poll_interval"`
}

// Validate checks the pair is well-formed. The take-profit must be on the
// favorable side of the stop, otherwise both legs trigger together.
func (c OCOConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("oco: symbol is required")
	}
	if c.Side != common.SideBuy && c.Side != common.SideSell {
		return fmt.Errorf("oco: side must be BUY or SELL, got %q", c.Side)
	}
	if c.Qty <= 0 {
		return fmt.Errorf("oco: quantity must be positive, got %v", c.Qty)
	}
	if c.TakeProfitPrice <= 0 || c.StopPrice <= 0 {
		return fmt.Errorf("oco: take profit and stop prices must be positive")
	}
	switch c.Side {
	case common.SideSell: // closing a long: take profit above, stop below
		if c.TakeProfitPrice <= c.StopPrice {
			return fmt.Errorf("oco: SELL exit needs take profit %v above stop %v", c.TakeProfitPrice, c.StopPrice)
		}
	case common.SideBuy: // closing a short: take profit below, stop above
		if c.TakeProfitPrice >= c.StopPrice {
			return fmt.Errorf("oco: BUY exit needs take profit %v below stop %v", c.TakeProfitPrice, c.StopPrice)
		}
	}
	return nil
}

// OCO runs one simulated one-cancels-other pair.
type OCO struct {
	exec Executor
	reg  *registry.Registry
	bus  *events.Bus
	key  registry.Key
	cfg  OCOConfig

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// NewOCO builds the orchestrator; Start launches it.
func NewOCO(exec Executor, reg *registry.Registry, bus *events.Bus, key registry.Key, cfg OCOConfig) *OCO {
	return &OCO{
		exec:  exec,
		reg:   reg,
		bus:   bus,
		key:   key,
		cfg:   cfg,
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
}

// Start places both legs and begins polling in a new goroutine.
func (o *OCO) Start(ctx context.Context) {
	go o.run(ctx)
}

// Stop cancels both legs and ends the job. Safe to call more than once.
func (o *OCO) Stop() {
	o.stopOnce.Do(func() { close(o.stopC) })
}

// Done is closed when the job reaches a terminal status.
func (o *OCO) Done() <-chan struct{} { return o.doneC }

func (o *OCO) run(ctx context.Context) {
	defer close(o.doneC)

	tp, err := placeWithRetry(ctx, o.exec, o.key.String(), common.OrderRequest{
		Symbol:     o.cfg.Symbol,
		Side:       o.cfg.Side,
		Type:       common.OrderTypeTakeProfit,
		Qty:        o.cfg.Qty,
		Price:      o.cfg.TakeProfitPrice,
		StopPrice:  o.cfg.TakeProfitPrice,
		ReduceOnly: true,
	})
	if err != nil {
		setFailed(o.reg, o.key, fmt.Sprintf("take profit leg: %v", err))
		o.bus.Publish(events.EventJobFailed, o.key.String())
		return
	}

	sl, err := placeWithRetry(ctx, o.exec, o.key.String(), common.OrderRequest{
		Symbol:     o.cfg.Symbol,
		Side:       o.cfg.Side,
		Type:       common.OrderTypeStopMarket,
		Qty:        o.cfg.Qty,
		StopPrice:  o.cfg.StopPrice,
		ReduceOnly: true,
	})
	if err != nil {
		// Never leave a lone leg working: roll the first one back.
		if cerr := cancelWithRetry(ctx, o.exec, o.cfg.Symbol, tp.ExchangeOrderID); cerr != nil {
			log.Printf("[OCO] %s: rollback of take profit leg failed: %v", o.key, cerr)
		}
		setFailed(o.reg, o.key, fmt.Sprintf("stop loss leg: %v", err))
		o.bus.Publish(events.EventJobFailed, o.key.String())
		return
	}

	setStatus(o.reg, o.key, registry.StatusRunning,
		fmt.Sprintf("legs placed tp=%s sl=%s", tp.ExchangeOrderID, sl.ExchangeOrderID))
	o.bus.Publish(events.EventJobStarted, o.key.String())
	log.Printf("[OCO] %s: watching tp=%s sl=%s on %s", o.key, tp.ExchangeOrderID, sl.ExchangeOrderID, o.cfg.Symbol)

	for {
		if !waitOrStop(ctx, o.stopC, o.cfg.PollInterval) {
			o.cancelBoth(ctx, tp.ExchangeOrderID, sl.ExchangeOrderID)
			return
		}

		tpNow, tpErr := o.exec.GetOrderStatus(ctx, o.cfg.Symbol, tp.ExchangeOrderID)
		slNow, slErr := o.exec.GetOrderStatus(ctx, o.cfg.Symbol, sl.ExchangeOrderID)
		if tpErr != nil || slErr != nil {
			// Transient poll failures are tolerated; next tick retries.
			log.Printf("[OCO] %s: status poll error (tp=%v sl=%v)", o.key, tpErr, slErr)
			continue
		}

		// A partial fill counts: the sibling must come off the book the
		// moment either leg starts executing.
		switch {
		case tpNow.Status.HasFill():
			o.resolve(ctx, fillReason("take profit", tpNow.Status), slNow, sl.ExchangeOrderID)
			return
		case slNow.Status.HasFill():
			o.resolve(ctx, fillReason("stop loss", slNow.Status), tpNow, tp.ExchangeOrderID)
			return
		case tpNow.Status.Terminal() && slNow.Status.Terminal():
			// Both gone without a fill: canceled out from under us.
			_ = o.reg.Update(o.key, func(j *registry.Job) {
				j.Status = registry.StatusStopped
				j.Reason = "both legs canceled externally"
			})
			o.bus.Publish(events.EventJobStopped, o.key.String())
			return
		}
	}
}

func fillReason(leg string, status common.OrderStatus) string {
	if status == common.StatusPartiallyFilled {
		return leg + " partially filled"
	}
	return leg + " filled"
}

// resolve cancels the surviving leg after the other filled. A sibling that
// filled in the same poll window cannot be undone, only reported.
func (o *OCO) resolve(ctx context.Context, cause string, sibling common.OrderRecord, siblingID string) {
	if sibling.Status.HasFill() {
		warning := fmt.Sprintf("%s but sibling %s also filled; position may be doubled", cause, siblingID)
		log.Printf("[OCO] %s: %s", o.key, warning)
		_ = o.reg.Update(o.key, func(j *registry.Job) {
			j.Status = registry.StatusStopped
			j.Warning = warning
			j.Reason = cause
		})
		o.bus.Publish(events.EventJobWarning, o.key.String()+": "+warning)
		o.bus.Publish(events.EventJobStopped, o.key.String())
		return
	}

	if err := cancelWithRetry(ctx, o.exec, o.cfg.Symbol, siblingID); err != nil {
		setFailed(o.reg, o.key, fmt.Sprintf("%s but sibling cancel failed: %v", cause, err))
		o.bus.Publish(events.EventJobFailed, o.key.String())
		return
	}
	log.Printf("[OCO] %s: %s, sibling %s canceled", o.key, cause, siblingID)
	_ = o.reg.Update(o.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.Reason = cause
	})
	o.bus.Publish(events.EventJobStopped, o.key.String())
}

// cancelBoth handles an operator stop: both legs come off the book.
func (o *OCO) cancelBoth(ctx context.Context, tpID, slID string) {
	setStatus(o.reg, o.key, registry.StatusStopping, "canceling both legs")

	var firstErr error
	for _, id := range []string{tpID, slID} {
		if err := cancelWithRetry(ctx, o.exec, o.cfg.Symbol, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		setFailed(o.reg, o.key, fmt.Sprintf("stop requested but cancel failed: %v", firstErr))
		o.bus.Publish(events.EventJobFailed, o.key.String())
		return
	}
	log.Printf("[OCO] %s: stopped, both legs canceled", o.key)
	_ = o.reg.Update(o.key, func(j *registry.Job) {
		j.Status = registry.StatusStopped
		j.Reason = "stopped by request"
	})
	o.bus.Publish(events.EventJobStopped, o.key.String())
}
