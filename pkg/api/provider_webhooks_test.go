package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
)

type fakeManager struct {
	creds     auth.Credentials
	err       error
	refreshed int
}

func (f *fakeManager) Get(ctx context.Context, accountID string) (auth.Credentials, error) {
	return f.creds, f.err
}

func (f *fakeManager) Refresh(ctx context.Context, creds *auth.Credentials) error {
	f.refreshed++
	creds.AccessToken = "fresh-token"
	return nil
}

type fakeCreator struct {
	token    string
	resource string
	target   string
	err      error
}

func (f *fakeCreator) CreateWebhook(ctx context.Context, token, resource, target string) (asana.Webhook, error) {
	f.token, f.resource, f.target = token, resource, target
	if f.err != nil {
		return asana.Webhook{}, f.err
	}
	return asana.Webhook{GID: "W1", Active: true, Target: target}, nil
}

func TestWebhookRegistrationCreatesHook(t *testing.T) {
	manager := &fakeManager{creds: auth.Credentials{AccountID: "acct-1", AccessToken: "token"}}
	creator := &fakeCreator{}
	handler := &WebhookRegistrationHandler{
		Credentials:   manager,
		API:           creator,
		PublicBaseURL: "https://hooks.example.com/",
		WebhookPath:   "/webhooks/asana",
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks?account_id=acct-1&resource=P1", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if creator.target != "https://hooks.example.com/webhooks/asana?account_id=acct-1" {
		t.Fatalf("unexpected target %q", creator.target)
	}
	if creator.token != "token" || creator.resource != "P1" {
		t.Fatalf("unexpected call token=%q resource=%q", creator.token, creator.resource)
	}
	if manager.refreshed != 0 {
		t.Fatalf("expected no refresh for token without expiry")
	}
	var body webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.WebhookID != "W1" || !body.Active {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestWebhookRegistrationRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	expires := now.Add(time.Minute)
	manager := &fakeManager{creds: auth.Credentials{AccountID: "acct-1", AccessToken: "stale", RefreshToken: "r", ExpiresAt: &expires}}
	creator := &fakeCreator{}
	handler := &WebhookRegistrationHandler{
		Credentials:   manager,
		API:           creator,
		PublicBaseURL: "https://hooks.example.com",
		Now:           func() time.Time { return now },
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks?account_id=acct-1&resource=P1", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if manager.refreshed != 1 || creator.token != "fresh-token" {
		t.Fatalf("expected refreshed token used, refreshed=%d token=%q", manager.refreshed, creator.token)
	}
}

func TestWebhookRegistrationValidation(t *testing.T) {
	handler := &WebhookRegistrationHandler{
		Credentials:   &fakeManager{err: auth.ErrAccountNotFound},
		API:           &fakeCreator{},
		PublicBaseURL: "https://hooks.example.com",
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks?account_id=acct-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without resource, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks?account_id=acct-1&resource=P1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhooks", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookRegistrationAPIError(t *testing.T) {
	handler := &WebhookRegistrationHandler{
		Credentials:   &fakeManager{creds: auth.Credentials{AccessToken: "token"}},
		API:           &fakeCreator{err: &asana.APIError{StatusCode: http.StatusForbidden, Message: "forbidden"}},
		PublicBaseURL: "https://hooks.example.com",
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks?account_id=acct-1&resource=P1", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 passthrough, got %d", rec.Code)
	}
}

func TestWebhookTargetRequiresPublicBaseURL(t *testing.T) {
	if _, err := webhookTarget("", "/webhooks/asana", "a"); err == nil {
		t.Fatalf("expected error without public base url")
	}
}
