package enrich

import (
	"context"
	"errors"
	"log"

	"asanahooks/internal"
	"asanahooks/pkg/activity"
	"asanahooks/pkg/auth"

	"github.com/google/uuid"
)

// UnknownActor is the display name used when the actor cannot be resolved.
const UnknownActor = "Unknown"

// Pipeline turns raw Asana events into normalized events.
type Pipeline struct {
	Resolver *Resolver
	Logger   *log.Logger
	// NewID generates event ids; nil uses random UUIDs.
	NewID func() string
}

// Enrich builds the normalized form of ev. Each lookup is guarded on its own
// and degrades to its fallback value, so Enrich never fails.
func (p *Pipeline) Enrich(ctx context.Context, ev activity.RawEvent, creds *auth.Credentials) activity.NormalizedEvent {
	actorName := UnknownActor
	if name, ok := p.resolve(ctx, KindUser, ev.UserGID(), creds); ok {
		actorName = name
	}

	taskID := ev.ParentGID()
	if ev.Resource != nil && ev.Resource.ResourceType == "task" {
		taskID = ev.ResourceGID()
	}
	var subtaskID *string
	if ev.ParentType() == "subtask" {
		subtaskID = activity.StringPtr(ev.ParentGID())
	}

	var taskName *string
	if name, ok := p.resolve(ctx, KindTask, taskID, creds); ok {
		taskName = &name
	}

	actionType, details := activity.Classify(ev)

	var commentText *string
	if actionType.FetchesCommentText() {
		if text, ok := p.resolve(ctx, KindStory, ev.ResourceGID(), creds); ok {
			commentText = &text
		}
	}

	return activity.NormalizedEvent{
		ID:          p.newID(),
		ProjectID:   projectID(ev),
		TaskID:      activity.StringPtr(taskID),
		SubtaskID:   subtaskID,
		ActionType:  actionType,
		ActorName:   actorName,
		TaskName:    taskName,
		CommentText: commentText,
		FromSection: activity.StringPtr(details[activity.DetailFromSection]),
		ToSection:   activity.StringPtr(details[activity.DetailToSection]),
		CreatedAt:   ev.CreatedAt,
		RawJSON:     ev.RawJSON(),
	}
}

func (p *Pipeline) resolve(ctx context.Context, kind Kind, gid string, creds *auth.Credentials) (string, bool) {
	if p.Resolver == nil {
		return "", false
	}
	value, err := p.Resolver.Resolve(ctx, kind, gid, creds)
	if err == nil {
		return value, true
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) && resErr.Reason == ReasonMissingGID {
		return "", false
	}
	internal.IncResolveFailure(string(kind))
	p.logger().Printf("resolve failed: %v", err)
	return "", false
}

// projectID prefers an explicit project parent, then the project a
// membership change added, then the one it removed.
func projectID(ev activity.RawEvent) *string {
	if ev.ParentType() == "project" && ev.ParentGID() != "" {
		return activity.StringPtr(ev.ParentGID())
	}
	if gid := ev.AddedProjectGID(); gid != "" {
		return activity.StringPtr(gid)
	}
	return activity.StringPtr(ev.RemovedProjectGID())
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}
