package activity

// ActionType is the normalized kind of an activity event. Values outside the
// constants below are raw Asana actions passed through unchanged.
type ActionType string

const (
	TaskCreated    ActionType = "task_created"
	TaskDeleted    ActionType = "task_deleted"
	TaskMoved      ActionType = "task_moved"
	TaskRenamed    ActionType = "task_renamed"
	TaskReassigned ActionType = "task_reassigned"
	CommentAdded   ActionType = "comment_added"
	CommentEdited  ActionType = "comment_edited"
	CommentDeleted ActionType = "comment_deleted"
	Unknown        ActionType = "unknown"
)

// Detail keys set by Classify.
const (
	DetailToSection   = "to_section"
	DetailFromSection = "from_section"
)

// Details carries action-specific values derived from the raw event.
type Details map[string]string

var commentSubtypes = map[string]ActionType{
	"comment_added":   CommentAdded,
	"comment_edited":  CommentEdited,
	"comment_deleted": CommentDeleted,
}

// Classify maps a raw event to its action type and details. It is pure and
// total: unrecognized shapes fall back to the raw action, or "unknown".
//
// A comment resource subtype always overrides the task classification.
func Classify(ev RawEvent) (ActionType, Details) {
	actionType := Unknown
	if ev.Action != "" {
		actionType = ActionType(ev.Action)
	}
	details := Details{}

	if ev.resourceType() == "task" {
		switch ev.Action {
		case "added":
			actionType = TaskCreated
		case "removed":
			actionType = TaskDeleted
		case "changed":
			switch ev.changeField() {
			case "memberships":
				actionType = TaskMoved
				if name := sectionName(ev.Change.AddedValue); name != "" {
					details[DetailToSection] = name
				}
				if name := sectionName(ev.Change.RemovedValue); name != "" {
					details[DetailFromSection] = name
				}
			case "name":
				actionType = TaskRenamed
			case "assignee":
				actionType = TaskReassigned
			}
		}
	}

	if override, ok := commentSubtypes[ev.resourceSubtype()]; ok {
		actionType = override
	}

	return actionType, details
}

// IsComment reports whether the action type is one of the comment actions.
func (a ActionType) IsComment() bool {
	switch a {
	case CommentAdded, CommentEdited, CommentDeleted:
		return true
	default:
		return false
	}
}

// FetchesCommentText reports whether the comment body should be looked up.
// Deleted comments no longer exist upstream.
func (a ActionType) FetchesCommentText() bool {
	return a == CommentAdded || a == CommentEdited
}

func sectionName(value *ChangeValue) string {
	if value == nil || value.Section == nil {
		return ""
	}
	return value.Section.Name
}
