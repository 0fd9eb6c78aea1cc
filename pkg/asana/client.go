package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public Asana REST API root.
	DefaultBaseURL = "https://app.asana.com/api/1.0"
	// DefaultAuthURL is the Asana OAuth authorize endpoint.
	DefaultAuthURL = "https://app.asana.com/-/oauth_authorize"
	// DefaultTokenURL is the Asana OAuth token endpoint.
	DefaultTokenURL = "https://app.asana.com/-/oauth_token"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096
)

// Client calls the Asana REST API with a caller-supplied bearer token.
type Client struct {
	BaseURL string
	Timeout time.Duration
	// Transport is the base transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// NewClient creates a client for baseURL. Empty values fall back to defaults.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, Timeout: timeout}
}

// APIError is a non-2xx answer from the Asana API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("asana api status %d", e.StatusCode)
	}
	return fmt.Sprintf("asana api status %d: %s", e.StatusCode, e.Message)
}

// Expired reports whether the error signals an expired access token.
func (e *APIError) Expired() bool {
	return e.StatusCode == http.StatusUnauthorized &&
		strings.Contains(strings.ToLower(e.Message), "expired")
}

// IsExpired reports whether err wraps an expired-token APIError.
func IsExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Expired()
}

// User is the subset of an Asana user the relay reads.
type User struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Task is the subset of an Asana task the relay reads.
type Task struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Story is the subset of an Asana story the relay reads.
type Story struct {
	GID             string `json:"gid"`
	Text            string `json:"text"`
	ResourceSubtype string `json:"resource_subtype"`
}

// Webhook is an Asana webhook registration.
type Webhook struct {
	GID      string `json:"gid"`
	Active   bool   `json:"active"`
	Target   string `json:"target"`
	Resource struct {
		GID  string `json:"gid"`
		Name string `json:"name"`
	} `json:"resource"`
}

// GetUser fetches a user by gid.
func (c *Client) GetUser(ctx context.Context, token, gid string) (User, error) {
	var out User
	err := c.do(ctx, token, http.MethodGet, "/users/"+url.PathEscape(gid), url.Values{"opt_fields": {"name,email"}}, nil, &out)
	return out, err
}

// Me fetches the user that owns token.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	return c.GetUser(ctx, token, "me")
}

// GetTask fetches a task by gid.
func (c *Client) GetTask(ctx context.Context, token, gid string) (Task, error) {
	var out Task
	err := c.do(ctx, token, http.MethodGet, "/tasks/"+url.PathEscape(gid), url.Values{"opt_fields": {"name"}}, nil, &out)
	return out, err
}

// GetStory fetches a story (comment) by gid.
func (c *Client) GetStory(ctx context.Context, token, gid string) (Story, error) {
	var out Story
	err := c.do(ctx, token, http.MethodGet, "/stories/"+url.PathEscape(gid), url.Values{"opt_fields": {"text,resource_subtype"}}, nil, &out)
	return out, err
}

// CreateWebhook registers target to receive events for resource.
func (c *Client) CreateWebhook(ctx context.Context, token, resource, target string) (Webhook, error) {
	if resource == "" || target == "" {
		return Webhook{}, errors.New("asana webhook resource and target are required")
	}
	body := map[string]interface{}{
		"data": map[string]string{
			"resource": resource,
			"target":   target,
		},
	}
	var out Webhook
	err := c.do(ctx, token, http.MethodPost, "/webhooks", nil, body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body interface{}, out interface{}) error {
	if token == "" {
		return errors.New("asana token is required")
	}
	endpoint := c.baseURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode asana response: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("asana response missing data")
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *Client) httpClient(token string) *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.Transport,
		},
	}
}

func (c *Client) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

func errorMessage(raw []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		messages := make([]string, 0, len(payload.Errors))
		for _, item := range payload.Errors {
			if item.Message != "" {
				messages = append(messages, item.Message)
			}
		}
		if len(messages) > 0 {
			return strings.Join(messages, "; ")
		}
	}
	return strings.TrimSpace(string(raw))
}
