package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
	"asanahooks/pkg/enrich"
	"asanahooks/pkg/oauth"
	"asanahooks/pkg/storage"
	"asanahooks/pkg/storage/accounts"
)

// fakeAsana answers user and task lookups, rejects the stale token as expired
// and rotates tokens on /token.
type fakeAsana struct {
	mu        sync.Mutex
	refreshes int
	tokens    []string
}

func (f *fakeAsana) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path == "/token" {
		f.refreshes++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"refresh-2","token_type":"bearer","expires_in":3600}`))
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.tokens = append(f.tokens, token)
	w.Header().Set("Content-Type", "application/json")
	if token != "fresh-token" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"The bearer token has expired"}]}`))
		return
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/users/"):
		_, _ = fmt.Fprintf(w, `{"data":{"gid":%q,"name":"Alice"}}`, strings.TrimPrefix(r.URL.Path, "/users/"))
	case strings.HasPrefix(r.URL.Path, "/tasks/"):
		gid := strings.TrimPrefix(r.URL.Path, "/tasks/")
		_, _ = fmt.Fprintf(w, `{"data":{"gid":%q,"name":"Task %s"}}`, gid, gid)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAsanaRefreshInBatchIsSeenByLaterEvents(t *testing.T) {
	fake := &fakeAsana{}
	server := httptest.NewServer(fake)
	defer server.Close()

	store, err := accounts.Open(storage.Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "accounts.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open accounts: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	account, err := store.UpsertAccount(ctx, storage.AccountRecord{
		ProviderAccountID: "U1",
		AccessToken:       "stale-token",
		RefreshToken:      "refresh-1",
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	manager := &auth.Manager{
		Accounts: store,
		Refresher: &oauth.Refresher{Config: auth.ProviderConfig{
			TokenURL:          server.URL + "/token",
			OAuthClientID:     "client",
			OAuthClientSecret: "secret",
		}},
	}
	pipeline := &enrich.Pipeline{
		Resolver: &enrich.Resolver{API: asana.NewClient(server.URL, 0), Credentials: manager},
	}
	events := &memoryEvents{}
	handler, err := NewAsanaHandler(pipeline, manager, events, nil, nil, nil, 1<<20, false)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := `{"events":[` + taskEvent("T1") + `,` + taskEvent("T2") + `]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/asana?account_id="+account.ID, strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fake.refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", fake.refreshes)
	}
	// actor(stale), actor(retry), task for T1, then actor and task for T2.
	want := []string{"stale-token", "fresh-token", "fresh-token", "fresh-token", "fresh-token"}
	if strings.Join(fake.tokens, ",") != strings.Join(want, ",") {
		t.Fatalf("expected lookup tokens %v, got %v", want, fake.tokens)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events.events))
	}
	for i, ev := range events.events {
		wantTask := fmt.Sprintf("Task T%d", i+1)
		if ev.ActorName != "Alice" || ev.TaskName == nil || *ev.TaskName != wantTask {
			t.Fatalf("event %d: expected resolved names, got actor=%q task=%v", i, ev.ActorName, ev.TaskName)
		}
	}

	stored, err := store.GetAccount(ctx, account.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload account: %v", err)
	}
	if stored.AccessToken != "fresh-token" || stored.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated tokens persisted, got %q/%q", stored.AccessToken, stored.RefreshToken)
	}
}
