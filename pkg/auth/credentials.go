package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"asanahooks/pkg/storage"
)

var (
	// ErrAccountNotFound is returned when an account id has no stored row.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoRefreshToken is returned when credentials cannot be refreshed.
	ErrNoRefreshToken = errors.New("refresh token missing")
)

// TokenSet is the result of a token exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Refresher exchanges a refresh token for a new token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// Credentials are the tokens used for outbound Asana calls of one delivery.
// A zero value means the personal access token is used.
type Credentials struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// CanRefresh reports whether a refresh token is available.
func (c *Credentials) CanRefresh() bool {
	return c != nil && c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires before now+window.
// Tokens without a known expiry never report as expiring.
func (c *Credentials) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// Manager loads and refreshes account credentials.
type Manager struct {
	Accounts  storage.AccountStore
	Refresher Refresher
	Logger    *log.Logger
}

// Get loads the credentials of accountID. An empty id yields empty credentials.
func (m *Manager) Get(ctx context.Context, accountID string) (Credentials, error) {
	if accountID == "" {
		return Credentials{}, nil
	}
	if m == nil || m.Accounts == nil {
		return Credentials{}, errors.New("account store not configured")
	}
	record, err := m.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Credentials{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if record == nil {
		return Credentials{}, ErrAccountNotFound
	}
	return Credentials{
		AccountID:    record.ID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

// Refresh exchanges creds.RefreshToken for a new pair and updates creds in
// place. The pair is persisted when the account id is known; a persistence
// failure is logged and does not fail the refresh.
func (m *Manager) Refresh(ctx context.Context, creds *Credentials) error {
	if !creds.CanRefresh() {
		return ErrNoRefreshToken
	}
	if m == nil || m.Refresher == nil {
		return errors.New("token refresher not configured")
	}
	tokens, err := m.Refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = creds.RefreshToken
	}
	creds.AccessToken = tokens.AccessToken
	creds.RefreshToken = tokens.RefreshToken
	creds.ExpiresAt = tokens.ExpiresAt

	if creds.AccountID == "" || m.Accounts == nil {
		return nil
	}
	if err := m.Accounts.UpdateTokens(ctx, creds.AccountID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		m.logger().Printf("token persist failed account_id=%s err=%v", creds.AccountID, err)
		return nil
	}
	m.logger().Printf("token refreshed account_id=%s", creds.AccountID)
	return nil
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}
