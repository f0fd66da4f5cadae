package common

import (
	"errors"
	"fmt"
)

// ExchangeError is a remote rejection. The exchange's code and message are
// carried verbatim so operators see exactly why the venue refused.
type ExchangeError struct {
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request (code %d): %s", e.Code, e.Message)
}

// Binance error codes for orders that no longer exist.
const (
	codeUnknownOrderSent = -2011 // CANCEL_REJECTED: unknown order
	codeNoSuchOrder      = -2013 // order does not exist
)

// OrderGone reports whether the error means the order is not on the book
// anymore (already filled, canceled or never known). Cancels treat this as
// success so retries never fail spuriously.
func (e *ExchangeError) OrderGone() bool {
	return e.Code == codeUnknownOrderSent || e.Code == codeNoSuchOrder
}

// AsExchangeError unwraps err to an ExchangeError if there is one.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
