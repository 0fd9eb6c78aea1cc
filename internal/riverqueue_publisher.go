package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

const defaultJobKind = "asanahooks.activity"

// ActivityJobArgs is the River job inserted for every routed activity event.
type ActivityJobArgs struct {
	Topic     string          `json:"topic"`
	Provider  string          `json:"provider"`
	Name      string          `json:"name"`
	RequestID string          `json:"request_id,omitempty"`
	AccountID string          `json:"account_id,omitempty"`
	Event     json.RawMessage `json:"event"`

	kind string
}

// Kind returns the configured job kind.
func (a ActivityJobArgs) Kind() string {
	if a.kind == "" {
		return defaultJobKind
	}
	return a.kind
}

// riverQueuePublisher enqueues events as River jobs through an insert-only client.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
}

// newRiverQueuePublisher creates a new RiverQueue publisher.
func newRiverQueuePublisher(ctx context.Context, cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg}, nil
}

// Publish inserts a new activity job.
func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	args, err := p.jobArgs(topic, event)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(eventMetadata(topic, event))
	if err != nil {
		return err
	}
	_, err = p.client.Insert(ctx, args, &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
		Metadata:    metadata,
	})
	return err
}

func (p *riverQueuePublisher) jobArgs(topic string, event Event) (ActivityJobArgs, error) {
	payload, err := eventPayload(event)
	if err != nil {
		return ActivityJobArgs{}, err
	}
	return ActivityJobArgs{
		Topic:     topic,
		Provider:  event.Provider,
		Name:      event.Name,
		RequestID: event.RequestID,
		AccountID: event.AccountID,
		Event:     json.RawMessage(payload),
		kind:      p.cfg.Kind,
	}, nil
}

// Close closes the underlying connection pool.
func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// PublishForDrivers is a convenience method that calls Publish.
func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}
