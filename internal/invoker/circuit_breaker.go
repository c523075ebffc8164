package invoker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/observability"
)

// Breaker state values exported through the circuit breaker gauge.
const (
	breakerClosedValue   = 0
	breakerHalfOpenValue = 1
	breakerOpenValue     = 2
)

// newBreaker builds the circuit breaker guarding one service. It trips after
// FailureThreshold consecutive failures, stays open for Timeout, and lets
// SuccessThreshold probe requests through while half-open.
func newBreaker(serviceID string, cfg config.CircuitBreakerConfig, logger *zap.Logger, metrics *observability.Metrics) *gobreaker.CircuitBreaker {
	failures := cfg.FailureThreshold
	if failures < 1 {
		failures = 5
	}
	probes := cfg.SuccessThreshold
	if probes < 1 {
		probes = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	metrics.SetBackendCircuitBreakerState(serviceID, breakerClosedValue)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceID,
		MaxRequests: uint32(probes),
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBackendCircuitBreakerState(name, breakerValue(to))
			logger.Warn("circuit breaker state changed",
				zap.String("service_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return breakerOpenValue
	case gobreaker.StateHalfOpen:
		return breakerHalfOpenValue
	}
	return breakerClosedValue
}

// isBreakerRejection reports whether err came from an open or saturated
// breaker rather than from the backend.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
