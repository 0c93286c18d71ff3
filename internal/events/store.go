package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore writes events to the domain_events table.
type PgStore struct {
	Pool *pgxpool.Pool
}

func (s PgStore) InsertEvent(ctx context.Context, topic, aggregateID string, payload []byte) (Event, error) {
	ev := Event{Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, topic, aggregateID, payload).Scan(&ev.ID, &ev.CreatedAt)
	return ev, err
}
