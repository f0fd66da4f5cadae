// Package validator normalizes and rejects malformed order requests before
// any network call. It is pure: no I/O, no clock.
package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"execution-core/pkg/exchanges/common"
)

// DefaultMinNotional is the floor applied when the exchange filter reports
// none. Price times quantity below this is rejected.
const DefaultMinNotional = 20.0

// ValidationError names the violated constraint. It is always recoverable
// by correcting the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func errf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Normalize validates req against rules and returns a copy whose quantity
// and prices are exact multiples of the symbol's steps. refPrice is the
// current mark price, used for the notional check on orders that carry no
// limit price.
func Normalize(req common.OrderRequest, rules common.SymbolRules, refPrice float64) (common.OrderRequest, error) {
	if req.Symbol == "" {
		return req, errf("symbol", "symbol is required")
	}
	if req.Side != common.SideBuy && req.Side != common.SideSell {
		return req, errf("side", "must be BUY or SELL, got %q", req.Side)
	}
	if !req.Type.Valid() {
		return req, errf("type", "unsupported order type %q", req.Type)
	}
	if req.Qty <= 0 {
		return req, errf("quantity", "must be positive, got %v", req.Qty)
	}

	if req.Type.RequiresPrice() {
		if req.Price <= 0 {
			return req, errf("price", "%s orders require a positive price", req.Type)
		}
	}
	if req.Type.RequiresStopPrice() {
		if req.StopPrice <= 0 {
			return req, errf("stopPrice", "%s orders require a positive stop price", req.Type)
		}
	}

	out := req
	if rules.TickSize > 0 {
		if out.Price > 0 {
			out.Price = RoundToStep(out.Price, rules.TickSize)
			if out.Price <= 0 {
				return req, errf("price", "%v rounds to zero with tick size %v", req.Price, rules.TickSize)
			}
		}
		if out.StopPrice > 0 {
			out.StopPrice = RoundToStep(out.StopPrice, rules.TickSize)
			if out.StopPrice <= 0 {
				return req, errf("stopPrice", "%v rounds to zero with tick size %v", req.StopPrice, rules.TickSize)
			}
		}
	}

	if rules.StepSize > 0 {
		out.Qty = RoundToStep(out.Qty, rules.StepSize)
		if out.Qty <= 0 {
			return req, errf("quantity", "%v rounds down to zero with step size %v", req.Qty, rules.StepSize)
		}
	}

	minNotional := rules.MinNotional
	if minNotional <= 0 {
		minNotional = DefaultMinNotional
	}
	ref := out.Price
	if ref <= 0 {
		ref = refPrice
	}
	if ref > 0 {
		if notional := ref * out.Qty; notional < minNotional {
			return req, errf("quantity", "notional %.2f below minimum %.2f", notional, minNotional)
		}
	}

	return out, nil
}

// RoundToStep returns the largest multiple of step not exceeding v,
// snapped back to step's decimal precision to avoid float drift.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := math.Floor(v/step + 1e-9)
	scale := math.Pow10(decimals(step))
	return math.Round(n*step*scale) / scale
}

func decimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
