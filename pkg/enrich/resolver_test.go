package enrich

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
)

type fakeAPI struct {
	calls  int
	tokens []string
	// answers are consumed in order; the last one repeats.
	answers []apiAnswer
}

type apiAnswer struct {
	value string
	err   error
}

func (f *fakeAPI) next(token string) (string, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	if len(f.answers) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx].value, f.answers[idx].err
}

func (f *fakeAPI) GetUser(ctx context.Context, token, gid string) (asana.User, error) {
	name, err := f.next(token)
	return asana.User{GID: gid, Name: name}, err
}

func (f *fakeAPI) GetTask(ctx context.Context, token, gid string) (asana.Task, error) {
	name, err := f.next(token)
	return asana.Task{GID: gid, Name: name}, err
}

func (f *fakeAPI) GetStory(ctx context.Context, token, gid string) (asana.Story, error) {
	text, err := f.next(token)
	return asana.Story{GID: gid, Text: text}, err
}

type fakeRefresher struct {
	calls    int
	newToken string
	err      error
}

func (f *fakeRefresher) Refresh(ctx context.Context, creds *auth.Credentials) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	creds.AccessToken = f.newToken
	return nil
}

var expiredErr = &asana.APIError{StatusCode: http.StatusUnauthorized, Message: "The bearer token has expired."}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	return resErr.Reason
}

func TestResolveMissingGIDMakesNoCall(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{value: "Alice"}}}
	resolver := &Resolver{API: api, PersonalToken: "pat"}
	_, err := resolver.Resolve(context.Background(), KindUser, "", &auth.Credentials{AccessToken: "at"})
	if reasonOf(t, err) != ReasonMissingGID {
		t.Fatalf("expected missing_gid, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("expected no network call, got %d", api.calls)
	}
}

func TestResolveWithoutCredentialMakesNoCall(t *testing.T) {
	api := &fakeAPI{}
	resolver := &Resolver{API: api}
	_, err := resolver.Resolve(context.Background(), KindTask, "T1", nil)
	if reasonOf(t, err) != ReasonNoCredential {
		t.Fatalf("expected no_credential, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("expected no network call, got %d", api.calls)
	}
}

func TestResolvePrefersAccessTokenOverPersonalToken(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{value: "Alice"}}}
	resolver := &Resolver{API: api, PersonalToken: "pat"}

	name, err := resolver.Resolve(context.Background(), KindUser, "U1", &auth.Credentials{AccessToken: "at"})
	if err != nil || name != "Alice" {
		t.Fatalf("expected Alice, got %q err=%v", name, err)
	}
	if api.tokens[0] != "at" {
		t.Fatalf("expected access token, got %q", api.tokens[0])
	}

	if _, err := resolver.Resolve(context.Background(), KindUser, "U1", &auth.Credentials{}); err != nil {
		t.Fatalf("resolve with pat: %v", err)
	}
	if api.tokens[1] != "pat" {
		t.Fatalf("expected personal token fallback, got %q", api.tokens[1])
	}
}

func TestResolveExpiredRefreshesOnceAndRetriesOnce(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{err: expiredErr}, {value: "Ship it"}}}
	refresher := &fakeRefresher{newToken: "fresh"}
	resolver := &Resolver{API: api, Credentials: refresher}

	creds := &auth.Credentials{AccountID: "a1", AccessToken: "stale", RefreshToken: "rt"}
	name, err := resolver.Resolve(context.Background(), KindTask, "T1", creds)
	if err != nil || name != "Ship it" {
		t.Fatalf("expected resolved name after retry, got %q err=%v", name, err)
	}
	if refresher.calls != 1 || api.calls != 2 {
		t.Fatalf("expected 1 refresh and 2 calls, got %d refresh %d calls", refresher.calls, api.calls)
	}
	if api.tokens[1] != "fresh" {
		t.Fatalf("expected retry with refreshed token, got %q", api.tokens[1])
	}
}

func TestResolveExpiredRetryFailureFallsBack(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{err: expiredErr}}}
	refresher := &fakeRefresher{newToken: "fresh"}
	resolver := &Resolver{API: api, Credentials: refresher}

	_, err := resolver.Resolve(context.Background(), KindUser, "U1", &auth.Credentials{AccessToken: "stale", RefreshToken: "rt"})
	if reasonOf(t, err) != ReasonStatus {
		t.Fatalf("expected status failure, got %v", err)
	}
	if refresher.calls != 1 || api.calls != 2 {
		t.Fatalf("expected exactly one refresh and one retry, got %d refresh %d calls", refresher.calls, api.calls)
	}
}

func TestResolveRefreshFailureFallsBack(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{err: expiredErr}}}
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	resolver := &Resolver{API: api, Credentials: refresher}

	_, err := resolver.Resolve(context.Background(), KindUser, "U1", &auth.Credentials{AccessToken: "stale", RefreshToken: "rt"})
	if reasonOf(t, err) != ReasonRefresh {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("expected no retry after failed refresh, got %d calls", api.calls)
	}
}

func TestResolveExpiredWithoutRefreshTokenDoesNotRefresh(t *testing.T) {
	api := &fakeAPI{answers: []apiAnswer{{err: expiredErr}}}
	refresher := &fakeRefresher{newToken: "fresh"}
	resolver := &Resolver{API: api, Credentials: refresher}

	if _, err := resolver.Resolve(context.Background(), KindUser, "U1", &auth.Credentials{AccessToken: "stale"}); err == nil {
		t.Fatalf("expected failure")
	}
	if refresher.calls != 0 || api.calls != 1 {
		t.Fatalf("expected no refresh, got %d refresh %d calls", refresher.calls, api.calls)
	}
}

func TestResolveOtherFailures(t *testing.T) {
	cases := map[Reason]apiAnswer{
		ReasonStatus:  {err: &asana.APIError{StatusCode: http.StatusNotFound, Message: "not found"}},
		ReasonRequest: {err: errors.New("dial tcp: timeout")},
		ReasonEmpty:   {value: ""},
	}
	for want, answer := range cases {
		api := &fakeAPI{answers: []apiAnswer{answer}}
		resolver := &Resolver{API: api, PersonalToken: "pat"}
		_, err := resolver.Resolve(context.Background(), KindStory, "S1", nil)
		if got := reasonOf(t, err); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}
