package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	provider     = "asana"
	callbackPath = "/oauth/asana/callback"

	stateCookie    = "asanahooks_oauth_state"
	stateCookieTTL = 10 * time.Minute
)

func callbackURL(r *http.Request, publicBaseURL string) string {
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL != "" {
		return publicBaseURL + callbackPath
	}
	scheme := forwardedProto(r)
	host := forwardedHost(r)
	if scheme == "" {
		scheme = "http"
	}
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, callbackPath)
}

func forwardedProto(r *http.Request) string {
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return ""
}

func forwardedHost(r *http.Request) string {
	if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
		return host
	}
	return ""
}

// oauthConfig builds the x/oauth2 client config for Asana. Asana expects the
// client credentials in the form body.
func oauthConfig(cfg auth.ProviderConfig, redirectURL string) *oauth2.Config {
	authURL := strings.TrimSpace(cfg.AuthURL)
	if authURL == "" {
		authURL = asana.DefaultAuthURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = asana.DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       cfg.OAuthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// withHTTPClient makes x/oauth2 use a client bounded by the provider timeout.
func withHTTPClient(ctx context.Context, cfg auth.ProviderConfig, client *http.Client) context.Context {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func expiryFromToken(token *oauth2.Token) *time.Time {
	if token == nil || token.Expiry.IsZero() {
		return nil
	}
	expires := token.Expiry.UTC()
	return &expires
}

func randomState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// setStateCookie binds state to the browser that started the flow.
func setStateCookie(w http.ResponseWriter, r *http.Request, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/oauth/",
		MaxAge:   int(stateCookieTTL / time.Second),
		HttpOnly: true,
		Secure:   forwardedProto(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/oauth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   forwardedProto(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// stateMatches reports whether state equals the value issued by the start handler.
func stateMatches(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}
