package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-widget/internal/circuitbreaker"
)

// ErrorCategory is a stable label for fetch outcomes in metrics and logs.
type ErrorCategory string

// Error category constants used as the weatherFetchesTotal outcome label.
const (
	ErrorCategoryInvalidCity ErrorCategory = "invalid_city"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps a FetchWeather error to an ErrorCategory. Returns "" for nil.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrInvalidCity):
		return ErrorCategoryInvalidCity
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
