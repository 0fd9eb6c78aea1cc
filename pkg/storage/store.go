package storage

import (
	"context"
	"time"

	"asanahooks/pkg/activity"
)

// AccountRecord stores an authenticated Asana account and its OAuth tokens.
type AccountRecord struct {
	ID                string
	ProviderAccountID string
	Name              string
	Email             string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EventFilter selects and pages stored events.
type EventFilter struct {
	ProjectID string
	Limit     int
	Offset    int
}

// AccountStore defines persistence for account credentials.
type AccountStore interface {
	// UpsertAccount inserts or updates the account keyed by its provider
	// account id and returns the stored record.
	UpsertAccount(ctx context.Context, record AccountRecord) (AccountRecord, error)
	GetAccount(ctx context.Context, id string) (*AccountRecord, error)
	GetAccountByProviderID(ctx context.Context, providerAccountID string) (*AccountRecord, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	Close() error
}

// EventStore defines persistence for normalized activity events.
type EventStore interface {
	InsertEvent(ctx context.Context, event activity.NormalizedEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]activity.NormalizedEvent, error)
	Close() error
}
