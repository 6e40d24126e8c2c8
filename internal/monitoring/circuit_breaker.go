package monitoring

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

// CircuitBreakerGateway wraps gateway.IGateway so a flapping payment gateway
// stops consuming worker slots; open-circuit calls fail fast and count as
// transient failures upstream.
type CircuitBreakerGateway struct {
	wrapped        gateway.IGateway
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *logger.Logger
}

type CircuitBreakerConfig struct {
	MaxRequests                 uint32
	Interval                    time.Duration
	Timeout                     time.Duration
	ConsecutiveFailureThreshold int
}

var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests:                 3,
	Interval:                    60 * time.Second,
	Timeout:                     30 * time.Second,
	ConsecutiveFailureThreshold: 5,
}

func NewCircuitBreakerGateway(wrapped gateway.IGateway, config CircuitBreakerConfig, logger *logger.Logger) gateway.IGateway {
	cb := &CircuitBreakerGateway{
		wrapped: wrapped,
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        "payment_gateway",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.ConsecutiveFailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state change", map[string]string{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}

	cb.circuitBreaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

func (cb *CircuitBreakerGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	result, err := cb.circuitBreaker.Execute(func() (interface{}, error) {
		return cb.wrapped.CreateCheckoutSession(ctx, req)
	})
	if err != nil {
		return nil, cb.classify(err)
	}
	return result.(*gateway.CheckoutSession), nil
}

func (cb *CircuitBreakerGateway) GetSessionStatus(ctx context.Context, sessionID string) (gateway.SessionStatus, error) {
	result, err := cb.circuitBreaker.Execute(func() (interface{}, error) {
		return cb.wrapped.GetSessionStatus(ctx, sessionID)
	})
	if err != nil {
		return "", cb.classify(err)
	}
	return result.(gateway.SessionStatus), nil
}

func (cb *CircuitBreakerGateway) GetChargeBreakdown(ctx context.Context, sessionID string) (*gateway.ChargeBreakdown, error) {
	result, err := cb.circuitBreaker.Execute(func() (interface{}, error) {
		return cb.wrapped.GetChargeBreakdown(ctx, sessionID)
	})
	if err != nil {
		return nil, cb.classify(err)
	}
	return result.(*gateway.ChargeBreakdown), nil
}

// VerifyWebhookSignature is pure local computation; no breaker involved.
func (cb *CircuitBreakerGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	return cb.wrapped.VerifyWebhookSignature(rawBody, signatureHeader)
}

// classify maps breaker-internal errors onto the transient gateway error so
// callers keep a single taxonomy.
func (cb *CircuitBreakerGateway) classify(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return gateway.ErrGatewayUnavailable
	}
	return err
}
