package asana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetTaskSendsBearerAndDecodesData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/T1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", got)
		}
		_, _ = w.Write([]byte(`{"data":{"gid":"T1","name":"Ship it"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0)
	task, err := client.GetTask(context.Background(), "tok", "T1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Name != "Ship it" {
		t.Fatalf("expected task name, got %q", task.Name)
	}
}

func TestExpiredTokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"The bearer token has expired."}]}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 0).GetUser(context.Background(), "tok", "U1")
	if !IsExpired(err) {
		t.Fatalf("expected expired error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

func TestUnauthorizedWithoutExpiryIsNotExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Not Authorized"}]}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 0).GetStory(context.Background(), "tok", "S1")
	if err == nil || IsExpired(err) {
		t.Fatalf("expected non-expired api error, got %v", err)
	}
}

func TestCreateWebhookPostsResourceAndTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/webhooks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Data map[string]string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Data["resource"] != "P1" || body.Data["target"] != "https://hooks.example.com/webhooks/asana" {
			t.Errorf("unexpected body %v", body.Data)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"gid":"W1","active":true,"target":"https://hooks.example.com/webhooks/asana","resource":{"gid":"P1","name":"Roadmap"}}}`))
	}))
	defer server.Close()

	hook, err := NewClient(server.URL, 0).CreateWebhook(context.Background(), "tok", "P1", "https://hooks.example.com/webhooks/asana")
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if hook.GID != "W1" || hook.Resource.GID != "P1" {
		t.Fatalf("unexpected webhook %+v", hook)
	}
}

func TestMissingTokenFailsWithoutRequest(t *testing.T) {
	if _, err := NewClient("http://127.0.0.1:1", 0).GetTask(context.Background(), "", "T1"); err == nil {
		t.Fatalf("expected error without token")
	}
}
