package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
)

const refreshWindow = 5 * time.Minute

// WebhookCreator registers an Asana webhook.
type WebhookCreator interface {
	CreateWebhook(ctx context.Context, token, resource, target string) (asana.Webhook, error)
}

// CredentialManager loads and refreshes account credentials.
type CredentialManager interface {
	Get(ctx context.Context, accountID string) (auth.Credentials, error)
	Refresh(ctx context.Context, creds *auth.Credentials) error
}

// WebhookRegistrationHandler registers an Asana webhook for a resource on
// behalf of a stored account. Deliveries target the ingestion endpoint with
// the account id attached.
type WebhookRegistrationHandler struct {
	Credentials   CredentialManager
	API           WebhookCreator
	PublicBaseURL string
	WebhookPath   string
	Logger        *log.Logger
	Now           func() time.Time
}

type webhookResponse struct {
	WebhookID  string `json:"webhook_id"`
	Active     bool   `json:"active"`
	ResourceID string `json:"resource_id"`
	Target     string `json:"target"`
	AccountID  string `json:"account_id"`
}

func (h *WebhookRegistrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Credentials == nil || h.API == nil {
		http.Error(w, "webhook registration not configured", http.StatusServiceUnavailable)
		return
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	if accountID == "" || resource == "" {
		http.Error(w, "account_id and resource are required", http.StatusBadRequest)
		return
	}
	target, err := webhookTarget(h.PublicBaseURL, h.WebhookPath, accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	creds, err := h.Credentials.Get(r.Context(), accountID)
	if errors.Is(err, auth.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "account lookup failed", http.StatusInternalServerError)
		h.logf("account lookup failed account_id=%s: %v", accountID, err)
		return
	}
	if creds.AccessToken == "" {
		http.Error(w, "access token missing", http.StatusBadRequest)
		return
	}
	if creds.CanRefresh() && creds.ExpiresWithin(h.now(), refreshWindow) {
		if err := h.Credentials.Refresh(r.Context(), &creds); err != nil {
			http.Error(w, "token refresh failed", http.StatusBadGateway)
			h.logf("token refresh failed account_id=%s: %v", accountID, err)
			return
		}
	}

	hook, err := h.API.CreateWebhook(r.Context(), creds.AccessToken, resource, target)
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *asana.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
		http.Error(w, "webhook registration failed", status)
		h.logf("webhook registration failed account_id=%s resource=%s: %v", accountID, resource, err)
		return
	}
	h.logf("webhook registered account_id=%s resource=%s webhook_id=%s", accountID, resource, hook.GID)

	writeJSON(w, http.StatusCreated, webhookResponse{
		WebhookID:  hook.GID,
		Active:     hook.Active,
		ResourceID: resource,
		Target:     target,
		AccountID:  accountID,
	})
}

func (h *WebhookRegistrationHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *WebhookRegistrationHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

func webhookTarget(publicBaseURL, webhookPath, accountID string) (string, error) {
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		return "", errors.New("public_base_url is required for webhook registration")
	}
	if webhookPath == "" {
		webhookPath = "/webhooks/asana"
	}
	if !strings.HasPrefix(webhookPath, "/") {
		webhookPath = "/" + webhookPath
	}
	return publicBaseURL + webhookPath + "?" + url.Values{"account_id": {accountID}}.Encode(), nil
}
