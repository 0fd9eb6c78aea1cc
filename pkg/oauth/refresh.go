package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"asanahooks/pkg/auth"

	"golang.org/x/oauth2"
)

// Refresher exchanges Asana refresh tokens at the provider token endpoint.
type Refresher struct {
	Config     auth.ProviderConfig
	HTTPClient *http.Client
}

// Refresh returns a new token set. The old refresh token is kept when the
// provider does not rotate it.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (auth.TokenSet, error) {
	if refreshToken == "" {
		return auth.TokenSet{}, errors.New("asana refresh token missing")
	}
	if r.Config.OAuthClientID == "" || r.Config.OAuthClientSecret == "" {
		return auth.TokenSet{}, errors.New("asana oauth client config missing")
	}
	ctx = withHTTPClient(ctx, r.Config, r.HTTPClient)
	source := oauthConfig(r.Config, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return auth.TokenSet{}, fmt.Errorf("asana token refresh failed: %w", err)
	}
	if token.AccessToken == "" {
		return auth.TokenSet{}, errors.New("asana access token missing")
	}
	out := auth.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiryFromToken(token),
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
