package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle serializes outbound REST calls against the venue-wide budget.
// One instance is shared by every order-producing component, so a burst of
// grid orders from one job cannot starve a TWAP slice due from another.
// It also tracks the weight the exchange reports back in response headers
// and slows down further when usage approaches the ban threshold.
type Throttle struct {
	lim *rate.Limiter

	mu          sync.RWMutex
	usedWeight  int
	weightLimit int
	lastReset   time.Time
	window      time.Duration
}

// NewThrottle creates a shared request throttle.
// callsPerSec/burst bound the raw request rate; weightLimit/window mirror the
// exchange's weight budget (e.g. 2400/min for Binance futures).
func NewThrottle(callsPerSec float64, burst, weightLimit int, window time.Duration) *Throttle {
	return &Throttle{
		lim:         rate.NewLimiter(rate.Limit(callsPerSec), burst),
		weightLimit: weightLimit,
		window:      window,
		lastReset:   time.Now(),
	}
}

// Wait blocks until the next call is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if t.nearCap() {
		// Back off hard when the reported weight is close to the cap;
		// a ban costs far more than a paused poll cycle.
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.lim.Wait(ctx)
}

// ObserveWeight records the used weight reported by the exchange
// (X-MBX-USED-WEIGHT-1M style headers).
func (t *Throttle) ObserveWeight(headerValue string) {
	if t == nil || headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.lastReset) >= t.window {
		t.usedWeight = 0
		t.lastReset = time.Now()
	}
	t.usedWeight = weight

	pct := float64(t.usedWeight) / float64(t.weightLimit) * 100
	if pct >= 95 {
		log.Printf("[THROTTLE] weight critical: %d/%d (%.1f%%)", t.usedWeight, t.weightLimit, pct)
	} else if pct >= 80 {
		log.Printf("[THROTTLE] weight warning: %d/%d (%.1f%%)", t.usedWeight, t.weightLimit, pct)
	}
}

// Usage returns the current weight usage.
func (t *Throttle) Usage() (used, limit int, pct float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if time.Since(t.lastReset) >= t.window {
		return 0, t.weightLimit, 0
	}
	return t.usedWeight, t.weightLimit, float64(t.usedWeight) / float64(t.weightLimit) * 100
}

func (t *Throttle) nearCap() bool {
	_, _, pct := t.Usage()
	return pct >= 90
}
