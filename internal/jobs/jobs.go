// Package jobs holds the order orchestrators: TWAP slicing, simulated OCO
// and grid trading. Each orchestrator owns one registry record and runs in
// its own goroutine until completion or an explicit stop.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"execution-core/internal/registry"
	"execution-core/internal/validator"
	"execution-core/pkg/exchanges/common"
)

// Executor is the slice of the execution engine that orchestrators need.
// Narrow on purpose: tests swap in a scripted fake.
type Executor interface {
	PlaceJobOrder(ctx context.Context, jobKey string, req common.OrderRequest) (common.OrderRecord, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderRecord, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

const (
	// placeAttempts bounds retries for one order submission. Validation
	// failures are local and deterministic and never retried; exchange
	// rejections and transport errors get the full budget before the
	// job gives up.
	placeAttempts = 3
	retryBackoff  = 500 * time.Millisecond
)

// placeWithRetry submits an order, retrying failures with doubling backoff.
// Only validation errors abort immediately.
func placeWithRetry(ctx context.Context, exec Executor, jobKey string, req common.OrderRequest) (common.OrderRecord, error) {
	backoff := retryBackoff
	var lastErr error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		rec, err := exec.PlaceJobOrder(ctx, jobKey, req)
		if err == nil {
			return rec, nil
		}
		lastErr = err

		var ve *validator.ValidationError
		if errors.As(err, &ve) {
			return common.OrderRecord{}, err
		}

		if attempt < placeAttempts {
			select {
			case <-ctx.Done():
				return common.OrderRecord{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return common.OrderRecord{}, fmt.Errorf("place order after %d attempts: %w", placeAttempts, lastErr)
}

// cancelWithRetry cancels an order with the same retry budget. The engine
// treats an already-gone order as success, so only transport failures loop.
func cancelWithRetry(ctx context.Context, exec Executor, symbol, orderID string) error {
	backoff := retryBackoff
	var lastErr error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		if err := exec.CancelOrder(ctx, symbol, orderID); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < placeAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("cancel order %s after %d attempts: %w", orderID, placeAttempts, lastErr)
}

// waitOrStop sleeps for d unless the job is stopped or the context ends.
// Returns false when the wait was interrupted.
func waitOrStop(ctx context.Context, stopC <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopC:
		return false
	case <-timer.C:
		return true
	}
}

// setStatus updates the registry record, recording the action that caused
// the transition.
func setStatus(reg *registry.Registry, key registry.Key, status registry.Status, action string) {
	_ = reg.Update(key, func(j *registry.Job) {
		j.Status = status
		if action != "" {
			j.LastAction = action
		}
	})
}

// setFailed moves the job to FAILED with a reason.
func setFailed(reg *registry.Registry, key registry.Key, reason string) {
	_ = reg.Update(key, func(j *registry.Job) {
		j.Status = registry.StatusFailed
		j.Reason = reason
	})
}
