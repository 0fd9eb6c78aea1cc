package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
	"asanahooks/pkg/storage"
)

// Handler handles the OAuth callback and persists the authorized account.
type Handler struct {
	Config        auth.ProviderConfig
	Accounts      storage.AccountStore
	API           *asana.Client
	HTTPClient    *http.Client
	Logger        *log.Logger
	RedirectBase  string
	PublicBaseURL string
}

type authorizedUser struct {
	GID   string
	Name  string
	Email string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	if msg := query.Get("error"); msg != "" {
		logger.Printf("asana oauth denied error=%s", msg)
		http.Error(w, "authorization denied", http.StatusBadRequest)
		return
	}
	code := query.Get("code")
	state := query.Get("state")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if !stateMatches(r, state) {
		logger.Printf("asana oauth state mismatch")
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	clearStateCookie(w, r)
	if h.Config.OAuthClientID == "" || h.Config.OAuthClientSecret == "" {
		http.Error(w, "oauth client config missing", http.StatusInternalServerError)
		return
	}

	redirectURL := callbackURL(r, h.PublicBaseURL)
	ctx := withHTTPClient(r.Context(), h.Config, h.HTTPClient)
	token, err := oauthConfig(h.Config, redirectURL).Exchange(ctx, code)
	if err != nil {
		logger.Printf("asana token exchange failed: %v", err)
		http.Error(w, "token exchange failed", http.StatusBadRequest)
		return
	}

	user := userFromExtra(token.Extra("data"))
	if user.GID == "" {
		user, err = h.fetchUser(r.Context(), token.AccessToken)
		if err != nil {
			logger.Printf("asana account resolve failed: %v", err)
			http.Error(w, "account lookup failed", http.StatusBadGateway)
			return
		}
	}

	warning := ""
	accountID := ""
	logUpsertAttempt(logger, user.GID, token.AccessToken)
	if h.Accounts == nil {
		warning = "storage_not_configured"
	} else {
		record, err := h.Accounts.UpsertAccount(r.Context(), storage.AccountRecord{
			ProviderAccountID: user.GID,
			Name:              user.Name,
			Email:             user.Email,
			AccessToken:       token.AccessToken,
			RefreshToken:      token.RefreshToken,
			ExpiresAt:         expiryFromToken(token),
		})
		if err != nil {
			logger.Printf("asana account upsert failed: %v", err)
			warning = "storage_persist_failed"
		} else {
			accountID = record.ID
		}
	}

	params := map[string]string{
		"account_id":          accountID,
		"provider":            provider,
		"provider_account_id": user.GID,
		"name":                user.Name,
		"state":               state,
	}
	if warning != "" {
		params["warning"] = warning
	}
	h.redirectOrJSON(w, r, params)
}

func (h *Handler) fetchUser(ctx context.Context, accessToken string) (authorizedUser, error) {
	client := h.API
	if client == nil {
		client = asana.NewClient(h.Config.BaseURL, h.Config.RequestTimeout())
	}
	me, err := client.Me(ctx, accessToken)
	if err != nil {
		return authorizedUser{}, err
	}
	if me.GID == "" {
		return authorizedUser{}, errors.New("asana user gid missing")
	}
	return authorizedUser{GID: me.GID, Name: me.Name, Email: me.Email}, nil
}

// userFromExtra reads the "data" object Asana attaches to token responses.
func userFromExtra(value interface{}) authorizedUser {
	data, ok := value.(map[string]interface{})
	if !ok {
		return authorizedUser{}
	}
	user := authorizedUser{
		GID:   stringValue(data["gid"]),
		Name:  stringValue(data["name"]),
		Email: stringValue(data["email"]),
	}
	if user.GID == "" {
		user.GID = stringValue(data["id"])
	}
	return user
}

func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (h *Handler) redirectOrJSON(w http.ResponseWriter, r *http.Request, params map[string]string) {
	redirect := strings.TrimSpace(h.RedirectBase)
	if redirect == "" {
		redirect = strings.TrimSpace(h.Config.RedirectBase)
	}
	if redirect == "" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(params)
		return
	}
	target, err := url.Parse(redirect)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(params)
		return
	}
	values := target.Query()
	for key, value := range params {
		if value == "" {
			continue
		}
		values.Set(key, value)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func logUpsertAttempt(logger *log.Logger, providerAccountID, accessToken string) {
	if logger == nil {
		return
	}
	tokenState := "empty"
	if accessToken != "" {
		tokenState = "present"
	}
	logger.Printf("oauth upsert attempt provider=%s provider_account_id=%s token=%s", provider, providerAccountID, tokenState)
}
