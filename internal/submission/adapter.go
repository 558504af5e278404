package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single gateway call.
	DefaultTimeout = 20 * time.Second

	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	instrumentationName    = "github.com/hanko-field/checkout/internal/submission"
)

// Deps configures an Adapter. Gateway is required.
type Deps struct {
	Gateway         Gateway
	Timeout         time.Duration
	BreakerName     string
	BreakerFailures uint32
	BreakerCooldown time.Duration
	NewAttemptID    func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
	Tracer          trace.Tracer
	Meter           metric.Meter
}

// Adapter runs order submissions against a Gateway with a deadline, a circuit breaker
// and telemetry, and folds every result into an Outcome.
type Adapter struct {
	gateway   Gateway
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
	attemptID func() string
	logger    func(context.Context, string, map[string]any)
	tracer    trace.Tracer
	outcomes  metric.Int64Counter
	latency   metric.Float64Histogram
}

// rejection carries a gateway error that must not count against the breaker.
type rejection struct{ err error }

func NewAdapter(deps Deps) (*Adapter, error) {
	if deps.Gateway == nil {
		return nil, errors.New("submission: gateway is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attemptID := deps.NewAttemptID
	if attemptID == nil {
		attemptID = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	outcomes, err := meter.Int64Counter("checkout.submission.outcomes",
		metric.WithDescription("Order submissions by result kind"))
	if err != nil {
		return nil, fmt.Errorf("submission: outcome counter: %w", err)
	}
	latency, err := meter.Float64Histogram("checkout.submission.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of gateway calls in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("submission: latency histogram: %w", err)
	}

	failures := deps.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := deps.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	name := strings.TrimSpace(deps.BreakerName)
	if name == "" {
		name = "order-gateway"
	}

	a := &Adapter{
		gateway:   deps.Gateway,
		timeout:   timeout,
		attemptID: attemptID,
		logger:    logger,
		tracer:    tracer,
		outcomes:  outcomes,
		latency:   latency,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger(context.Background(), "submission.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return a, nil
}

// Submit places req with a fresh attempt id. It never returns an error; every failure
// is reported through the Outcome.
func (a *Adapter) Submit(ctx context.Context, req OrderRequest) Outcome {
	req.AttemptID = a.attemptID()
	ctx, span := a.tracer.Start(ctx, "submission.Submit", trace.WithAttributes(
		attribute.String("checkout.order_id", req.OrderID),
		attribute.String("checkout.attempt_id", req.AttemptID),
		attribute.String("checkout.payment_method", req.PaymentMethod.ID),
		attribute.Int64("checkout.total_amount", req.TotalAmount),
	))
	defer span.End()

	start := time.Now()
	outcome := a.submit(ctx, req)
	elapsed := time.Since(start)

	kind := "success"
	if !outcome.Success {
		kind = string(outcome.ErrorKind)
		span.SetStatus(codes.Error, kind)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
		}
	}
	span.SetAttributes(attribute.String("checkout.outcome", kind))
	attrs := metric.WithAttributes(attribute.String("outcome", kind))
	a.outcomes.Add(ctx, 1, attrs)
	a.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)

	fields := map[string]any{
		"orderId":   req.OrderID,
		"attemptId": req.AttemptID,
		"outcome":   kind,
		"elapsedMs": elapsed.Milliseconds(),
	}
	if outcome.Success {
		fields["transactionId"] = outcome.TransactionID
	} else if outcome.Err != nil {
		fields["error"] = outcome.Err
	}
	a.logger(ctx, "submission.completed", fields)
	return outcome
}

func (a *Adapter) submit(parent context.Context, req OrderRequest) Outcome {
	if err := req.Validate(); err != nil {
		return Failed(req.AttemptID, KindInvalidRequest, err)
	}
	if err := parent.Err(); err != nil {
		return Failed(req.AttemptID, KindCancelled, err)
	}

	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		receipt, err := a.gateway.PlaceOrder(ctx, req)
		switch {
		case err == nil:
			return receipt, nil
		case parent.Err() != nil:
			return rejection{err: parent.Err()}, nil
		case errors.Is(err, ErrDeclined), errors.Is(err, ErrInvalidRequest):
			return rejection{err: err}, nil
		}
		return nil, err
	})

	if err == nil {
		switch r := result.(type) {
		case rejection:
			return Failed(req.AttemptID, Classify(r.err), r.err)
		case Receipt:
			if strings.TrimSpace(r.TransactionID) == "" {
				return Failed(req.AttemptID, KindFailed, errors.New("submission: gateway returned no transaction id"))
			}
			return Succeeded(req.AttemptID, r.TransactionID)
		}
		return Failed(req.AttemptID, KindFailed, fmt.Errorf("submission: unexpected gateway result %T", result))
	}

	switch {
	case parent.Err() != nil:
		return Failed(req.AttemptID, KindCancelled, parent.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Failed(req.AttemptID, KindTimeout, fmt.Errorf("submission: gateway did not answer within %s", a.timeout))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Failed(req.AttemptID, KindUnavailable, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return Failed(req.AttemptID, Classify(err), err)
}

// Classify maps a gateway error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeclined):
		return KindDeclined
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindFailed
}

// BreakerState exposes the circuit state for health reporting.
func (a *Adapter) BreakerState() string {
	return a.breaker.State().String()
}
