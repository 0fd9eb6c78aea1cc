package activity

import (
	"bytes"
	"encoding/json"
)

// Reference points at an Asana object (user, task, project, story, section).
type Reference struct {
	GID             string `json:"gid,omitempty"`
	ResourceType    string `json:"resource_type,omitempty"`
	ResourceSubtype string `json:"resource_subtype,omitempty"`
	Name            string `json:"name,omitempty"`
}

// UnmarshalJSON ignores values that are not JSON objects so a malformed
// reference never fails the enclosing event.
func (r *Reference) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		*r = Reference{}
		return nil
	}
	type plain Reference
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		*r = Reference{}
		return nil
	}
	*r = Reference(out)
	return nil
}

// ChangeValue is the added or removed side of a change. Membership changes
// carry the section and project the task moved into or out of.
type ChangeValue struct {
	GID          string     `json:"gid,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	Name         string     `json:"name,omitempty"`
	Section      *Reference `json:"section,omitempty"`
	Project      *Reference `json:"project,omitempty"`
}

// UnmarshalJSON tolerates scalar values (Asana sends strings for some fields).
func (v *ChangeValue) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		*v = ChangeValue{}
		return nil
	}
	type plain ChangeValue
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		*v = ChangeValue{}
		return nil
	}
	*v = ChangeValue(out)
	return nil
}

// Change describes which field of the resource changed.
type Change struct {
	Field        string          `json:"field,omitempty"`
	Action       string          `json:"action,omitempty"`
	AddedValue   *ChangeValue    `json:"added_value,omitempty"`
	RemovedValue *ChangeValue    `json:"removed_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
}

// UnmarshalJSON ignores non-object change payloads.
func (c *Change) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		*c = Change{}
		return nil
	}
	type plain Change
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		*c = Change{}
		return nil
	}
	*c = Change(out)
	return nil
}

// RawEvent is a single event from an Asana webhook delivery, decoded as-is.
type RawEvent struct {
	Action    string     `json:"action,omitempty"`
	Resource  *Reference `json:"resource,omitempty"`
	Parent    *Reference `json:"parent,omitempty"`
	Change    *Change    `json:"change,omitempty"`
	User      *Reference `json:"user,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`

	// Raw holds the verbatim JSON of the event for the audit trail.
	Raw json.RawMessage `json:"-"`
}

// DecodeRawEvent decodes one event element. It never fails: an element that
// cannot be decoded yields a RawEvent that only carries its raw bytes.
func DecodeRawEvent(data []byte) (RawEvent, error) {
	raw := append(json.RawMessage(nil), data...)
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RawEvent{Raw: raw}, err
	}
	ev.Raw = raw
	return ev, nil
}

// RawJSON returns the audit payload, re-encoding the event when the original
// bytes are not available.
func (e RawEvent) RawJSON() json.RawMessage {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return json.RawMessage("{}")
	}
	return encoded
}

func (e RawEvent) resourceType() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.ResourceType
}

func (e RawEvent) resourceSubtype() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.ResourceSubtype
}

func (e RawEvent) changeField() string {
	if e.Change == nil {
		return ""
	}
	return e.Change.Field
}

// ResourceGID returns the gid of the event's own resource.
func (e RawEvent) ResourceGID() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.GID
}

// UserGID returns the gid of the acting user, if any.
func (e RawEvent) UserGID() string {
	if e.User == nil {
		return ""
	}
	return e.User.GID
}

// ParentGID returns the gid of the parent reference, if any.
func (e RawEvent) ParentGID() string {
	if e.Parent == nil {
		return ""
	}
	return e.Parent.GID
}

// ParentType returns the resource type of the parent reference, if any.
func (e RawEvent) ParentType() string {
	if e.Parent == nil {
		return ""
	}
	return e.Parent.ResourceType
}

// AddedProjectGID returns change.added_value.project.gid.
func (e RawEvent) AddedProjectGID() string {
	if e.Change == nil || e.Change.AddedValue == nil || e.Change.AddedValue.Project == nil {
		return ""
	}
	return e.Change.AddedValue.Project.GID
}

// RemovedProjectGID returns change.removed_value.project.gid.
func (e RawEvent) RemovedProjectGID() string {
	if e.Change == nil || e.Change.RemovedValue == nil || e.Change.RemovedValue.Project == nil {
		return ""
	}
	return e.Change.RemovedValue.Project.GID
}

// NormalizedEvent is the stored, display-ready form of one RawEvent.
type NormalizedEvent struct {
	ID              string
	ProjectID       *string
	TaskID          *string
	SubtaskID       *string
	ActionType      ActionType
	ActorName       string
	TaskName        *string
	CommentText     *string
	AddedUserName   *string
	RemovedUserName *string
	FromSection     *string
	ToSection       *string
	CreatedAt       string
	RawJSON         json.RawMessage
}

// Details returns the detail fields as the sub-object exposed by the read API.
func (e NormalizedEvent) Details() EventDetails {
	return EventDetails{
		ToSection:       e.ToSection,
		FromSection:     e.FromSection,
		AddedUserName:   e.AddedUserName,
		RemovedUserName: e.RemovedUserName,
	}
}

// EventDetails is the JSON detail object of an event.
type EventDetails struct {
	ToSection       *string `json:"to_section"`
	FromSection     *string `json:"from_section"`
	AddedUserName   *string `json:"added_user_name"`
	RemovedUserName *string `json:"removed_user_name"`
}

// EventView is the JSON projection of a NormalizedEvent used by the read API
// and by published messages.
type EventView struct {
	ID          string          `json:"id"`
	ProjectID   *string         `json:"project_id"`
	TaskID      *string         `json:"task_id"`
	SubtaskID   *string         `json:"subtask_id"`
	ActionType  string          `json:"action_type"`
	ActorName   string          `json:"actor_name"`
	TaskName    *string         `json:"task_name"`
	CommentText *string         `json:"comment_text"`
	CreatedAt   string          `json:"created_at"`
	Details     EventDetails    `json:"details"`
	Raw         json.RawMessage `json:"raw"`
}

// View builds the JSON projection of the event.
func (e NormalizedEvent) View() EventView {
	raw := e.RawJSON
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage("null")
	}
	return EventView{
		ID:          e.ID,
		ProjectID:   e.ProjectID,
		TaskID:      e.TaskID,
		SubtaskID:   e.SubtaskID,
		ActionType:  string(e.ActionType),
		ActorName:   e.ActorName,
		TaskName:    e.TaskName,
		CommentText: e.CommentText,
		CreatedAt:   e.CreatedAt,
		Details:     e.Details(),
		Raw:         raw,
	}
}

// StringPtr returns nil for an empty string.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
