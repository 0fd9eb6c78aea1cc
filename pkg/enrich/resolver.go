package enrich

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
)

// Kind names the Asana entity a resolver call looks up.
type Kind string

const (
	KindUser  Kind = "user"
	KindTask  Kind = "task"
	KindStory Kind = "story"
)

// Reason classifies a resolution failure.
type Reason string

const (
	ReasonMissingGID   Reason = "missing_gid"
	ReasonNoCredential Reason = "no_credential"
	ReasonRequest      Reason = "request"
	ReasonStatus       Reason = "status"
	ReasonEmpty        Reason = "empty"
	ReasonRefresh      Reason = "refresh"
)

// ResolutionError reports why a display value could not be resolved.
type ResolutionError struct {
	Kind   Kind
	GID    string
	Reason Reason
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s %q: %s", e.Kind, e.GID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// API is the subset of the Asana client used for lookups.
type API interface {
	GetUser(ctx context.Context, token, gid string) (asana.User, error)
	GetTask(ctx context.Context, token, gid string) (asana.Task, error)
	GetStory(ctx context.Context, token, gid string) (asana.Story, error)
}

// CredentialRefresher refreshes credentials in place.
type CredentialRefresher interface {
	Refresh(ctx context.Context, creds *auth.Credentials) error
}

// Resolver looks up display names and comment text for Asana gids.
type Resolver struct {
	API         API
	Credentials CredentialRefresher
	// PersonalToken is used when the credentials carry no access token.
	PersonalToken string
	Logger        *log.Logger
}

// Resolve returns the display value of the entity. Every failure is returned
// as a *ResolutionError. On an expired-token answer it refreshes creds once
// and retries once.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, gid string, creds *auth.Credentials) (string, error) {
	if gid == "" {
		return "", &ResolutionError{Kind: kind, Reason: ReasonMissingGID}
	}
	token := r.token(creds)
	if token == "" {
		return "", &ResolutionError{Kind: kind, GID: gid, Reason: ReasonNoCredential}
	}

	value, err := r.fetch(ctx, kind, gid, token)
	if err == nil {
		return r.nonEmpty(kind, gid, value)
	}
	if !asana.IsExpired(err) || !creds.CanRefresh() || r.Credentials == nil {
		return "", r.failure(kind, gid, err)
	}

	r.logger().Printf("token expired kind=%s gid=%s; refreshing", kind, gid)
	if refreshErr := r.Credentials.Refresh(ctx, creds); refreshErr != nil {
		return "", &ResolutionError{Kind: kind, GID: gid, Reason: ReasonRefresh, Err: refreshErr}
	}
	value, err = r.fetch(ctx, kind, gid, creds.AccessToken)
	if err != nil {
		return "", r.failure(kind, gid, err)
	}
	return r.nonEmpty(kind, gid, value)
}

func (r *Resolver) fetch(ctx context.Context, kind Kind, gid, token string) (string, error) {
	if r.API == nil {
		return "", errors.New("asana client not configured")
	}
	switch kind {
	case KindUser:
		user, err := r.API.GetUser(ctx, token, gid)
		return user.Name, err
	case KindTask:
		task, err := r.API.GetTask(ctx, token, gid)
		return task.Name, err
	case KindStory:
		story, err := r.API.GetStory(ctx, token, gid)
		return story.Text, err
	default:
		return "", fmt.Errorf("unsupported kind %q", kind)
	}
}

func (r *Resolver) token(creds *auth.Credentials) string {
	if creds != nil && creds.AccessToken != "" {
		return creds.AccessToken
	}
	return r.PersonalToken
}

func (r *Resolver) nonEmpty(kind Kind, gid, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", &ResolutionError{Kind: kind, GID: gid, Reason: ReasonEmpty}
	}
	return value, nil
}

func (r *Resolver) failure(kind Kind, gid string, err error) *ResolutionError {
	var apiErr *asana.APIError
	if errors.As(err, &apiErr) {
		return &ResolutionError{Kind: kind, GID: gid, Reason: ReasonStatus, Err: err}
	}
	return &ResolutionError{Kind: kind, GID: gid, Reason: ReasonRequest, Err: err}
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
