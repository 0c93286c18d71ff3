package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

// LogNotifier writes one log line per event.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		Msg("domain_event")
	return nil
}

// MetricsNotifier counts events by topic.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(_ context.Context, ev Event) error {
	if obs.DomainEventsTotal != nil {
		obs.DomainEventsTotal.WithLabelValues(ev.Topic).Inc()
	}
	return nil
}
