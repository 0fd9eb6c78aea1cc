package worker

import (
	"context"
	"errors"
	"time"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
)

const clientRefreshWindow = time.Minute

// ClientProvider is an interface for creating API clients.
// This allows handlers to call back into Asana for the event's account.
type ClientProvider interface {
	// Client returns an Asana client for the given event.
	Client(ctx context.Context, evt *Event) (*AccountClient, error)
}

// ClientProviderFunc is a function that implements the ClientProvider interface.
type ClientProviderFunc func(ctx context.Context, evt *Event) (*AccountClient, error)

// Client returns a new API client by calling the underlying function.
func (fn ClientProviderFunc) Client(ctx context.Context, evt *Event) (*AccountClient, error) {
	return fn(ctx, evt)
}

// AccountClient is an Asana client bound to one access token.
type AccountClient struct {
	API   *asana.Client
	Token string
}

// Task fetches a task with the bound token.
func (c *AccountClient) Task(ctx context.Context, gid string) (asana.Task, error) {
	return c.API.GetTask(ctx, c.Token, gid)
}

// User fetches a user with the bound token.
func (c *AccountClient) User(ctx context.Context, gid string) (asana.User, error) {
	return c.API.GetUser(ctx, c.Token, gid)
}

// Story fetches a story with the bound token.
func (c *AccountClient) Story(ctx context.Context, gid string) (asana.Story, error) {
	return c.API.GetStory(ctx, c.Token, gid)
}

// CredentialSource loads and refreshes account credentials.
type CredentialSource interface {
	Get(ctx context.Context, accountID string) (auth.Credentials, error)
	Refresh(ctx context.Context, creds *auth.Credentials) error
}

// CredentialClientProvider binds clients to the account named in the message
// metadata. Events without an account use the personal access token.
type CredentialClientProvider struct {
	API           *asana.Client
	Credentials   CredentialSource
	PersonalToken string
	Now           func() time.Time
}

// Client resolves the token for evt and returns a bound client.
func (p *CredentialClientProvider) Client(ctx context.Context, evt *Event) (*AccountClient, error) {
	if p == nil || p.API == nil {
		return nil, errors.New("asana client provider is not configured")
	}
	if evt == nil {
		return nil, errors.New("event is required")
	}
	if evt.AccountID == "" || p.Credentials == nil {
		if p.PersonalToken == "" {
			return nil, errors.New("no account on event and no personal access token")
		}
		return &AccountClient{API: p.API, Token: p.PersonalToken}, nil
	}
	creds, err := p.Credentials.Get(ctx, evt.AccountID)
	if err != nil {
		return nil, err
	}
	if creds.CanRefresh() && creds.ExpiresWithin(p.now(), clientRefreshWindow) {
		if err := p.Credentials.Refresh(ctx, &creds); err != nil {
			return nil, err
		}
	}
	if creds.AccessToken == "" {
		return nil, errors.New("asana access token missing")
	}
	return &AccountClient{API: p.API, Token: creds.AccessToken}, nil
}

func (p *CredentialClientProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
