package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"asanahooks/pkg/auth"
	"asanahooks/pkg/storage"
)

type memoryAccounts struct {
	records []storage.AccountRecord
}

func (m *memoryAccounts) UpsertAccount(ctx context.Context, record storage.AccountRecord) (storage.AccountRecord, error) {
	record.ID = "acct-" + record.ProviderAccountID
	m.records = append(m.records, record)
	return record, nil
}

func (m *memoryAccounts) GetAccount(ctx context.Context, id string) (*storage.AccountRecord, error) {
	return nil, nil
}

func (m *memoryAccounts) GetAccountByProviderID(ctx context.Context, providerAccountID string) (*storage.AccountRecord, error) {
	return nil, nil
}

func (m *memoryAccounts) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	return nil
}

func (m *memoryAccounts) Close() error { return nil }

func tokenServer(t *testing.T, response string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "secret" {
			t.Errorf("expected client credentials in params, got %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func providerConfig(tokenURL string) auth.ProviderConfig {
	return auth.ProviderConfig{
		OAuthClientID:     "cid",
		OAuthClientSecret: "secret",
		AuthURL:           "https://asana.example.com/-/oauth_authorize",
		TokenURL:          tokenURL,
	}
}

func TestRefresherKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	server := tokenServer(t, `{"access_token":"new","token_type":"bearer","expires_in":3600}`)
	refresher := &Refresher{Config: providerConfig(server.URL)}

	tokens, err := refresher.Refresh(context.Background(), "rt")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "new" || tokens.RefreshToken != "rt" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if tokens.ExpiresAt == nil || time.Until(*tokens.ExpiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", tokens.ExpiresAt)
	}
}

func TestRefresherRequiresRefreshToken(t *testing.T) {
	refresher := &Refresher{Config: providerConfig("http://127.0.0.1:1")}
	if _, err := refresher.Refresh(context.Background(), ""); err == nil {
		t.Fatalf("expected error without refresh token")
	}
}

func TestStartRedirectsToAuthorizeURL(t *testing.T) {
	handler := &StartHandler{Config: providerConfig(""), PublicBaseURL: "https://hooks.example.com"}
	req := httptest.NewRequest(http.MethodGet, "/oauth/asana/start?state=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	target, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	q := target.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "abc" || q.Get("response_type") != "code" {
		t.Fatalf("unexpected authorize query %v", q)
	}
	if q.Get("redirect_uri") != "https://hooks.example.com/oauth/asana/callback" {
		t.Fatalf("unexpected redirect_uri %q", q.Get("redirect_uri"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != stateCookie || cookies[0].Value != "abc" || !cookies[0].HttpOnly {
		t.Fatalf("expected http-only state cookie, got %+v", cookies)
	}
}

func callbackRequest(target, state string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	}
	return req
}

func TestCallbackUpsertsAccountFromTokenData(t *testing.T) {
	server := tokenServer(t, `{"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":3600,"data":{"gid":"U1","name":"Alice","email":"alice@example.com"}}`)
	accounts := &memoryAccounts{}
	handler := &Handler{Config: providerConfig(server.URL), Accounts: accounts}

	req := callbackRequest("/oauth/asana/callback?code=xyz&state=s1", "s1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(accounts.records) != 1 {
		t.Fatalf("expected one upsert, got %d", len(accounts.records))
	}
	record := accounts.records[0]
	if record.ProviderAccountID != "U1" || record.Name != "Alice" || record.AccessToken != "at" || record.RefreshToken != "rt" {
		t.Fatalf("unexpected record %+v", record)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["account_id"] != "acct-U1" || body["state"] != "s1" {
		t.Fatalf("unexpected body %v", body)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != stateCookie || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected state cookie to be cleared, got %+v", cookies)
	}
}

func TestCallbackRedirectsWhenConfigured(t *testing.T) {
	server := tokenServer(t, `{"access_token":"at","token_type":"bearer","data":{"gid":"U1","name":"Alice"}}`)
	handler := &Handler{Config: providerConfig(server.URL), Accounts: &memoryAccounts{}, RedirectBase: "https://app.example.com/connected"}

	req := callbackRequest("/oauth/asana/callback?code=xyz&state=s2", "s2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://app.example.com/connected?") || !strings.Contains(location, "account_id=acct-U1") {
		t.Fatalf("unexpected location %q", location)
	}
}

func TestCallbackRequiresCode(t *testing.T) {
	handler := &Handler{Config: providerConfig("http://127.0.0.1:1")}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/asana/callback", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCallbackRejectsUnboundState(t *testing.T) {
	server := tokenServer(t, `{"access_token":"at","token_type":"bearer","data":{"gid":"U1","name":"Alice"}}`)
	cases := map[string]*http.Request{
		"no cookie":     callbackRequest("/oauth/asana/callback?code=xyz&state=s1", ""),
		"wrong cookie":  callbackRequest("/oauth/asana/callback?code=xyz&state=s1", "other"),
		"missing state": callbackRequest("/oauth/asana/callback?code=xyz", "s1"),
	}
	for name, req := range cases {
		accounts := &memoryAccounts{}
		handler := &Handler{Config: providerConfig(server.URL), Accounts: accounts}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if len(accounts.records) != 0 {
			t.Fatalf("%s: expected no upsert, got %d", name, len(accounts.records))
		}
	}
}
