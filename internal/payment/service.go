package payment

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Service instruments a Verifier with tracing and metrics.
type Service struct {
	Verifier Verifier
	// Name labels metrics, e.g. "manual" or "gateway".
	Name string
}

// Verify confirms c with the configured verifier.
func (s *Service) Verify(ctx context.Context, c Check) (pricing.Money, error) {
	if s == nil || s.Verifier == nil {
		return pricing.Money{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Verify")
	defer span.End()

	start := time.Now()
	amount, err := s.Verifier.Verify(ctx, c)
	result := resultLabel(err)
	span.SetAttributes(
		attribute.String("payment.verifier", s.name()),
		attribute.String("payment.method", string(c.Method)),
		attribute.String("payment.result", result),
		attribute.Float64("payment.verify.duration_ms", obs.DurationMillis(time.Since(start))),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	if obs.PaymentVerificationTotal != nil {
		obs.PaymentVerificationTotal.WithLabelValues(s.name(), string(c.Method), result).Inc()
	}
	return amount, err
}

func (s *Service) name() string {
	if s.Name == "" {
		return "manual"
	}
	return s.Name
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrNotCaptured):
		return "not_captured"
	case errors.Is(err, ErrUnknownReference):
		return "unknown_reference"
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
