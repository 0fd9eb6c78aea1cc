package activity

import (
	"reflect"
	"testing"
)

func decode(t *testing.T, raw string) RawEvent {
	t.Helper()
	ev, err := DecodeRawEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return ev
}

func TestClassifyTaskAdded(t *testing.T) {
	ev := decode(t, `{"action":"added","resource":{"gid":"T1","resource_type":"task"}}`)
	actionType, details := Classify(ev)
	if actionType != TaskCreated {
		t.Fatalf("expected task_created, got %q", actionType)
	}
	if len(details) != 0 {
		t.Fatalf("expected empty details, got %v", details)
	}
}

func TestClassifyTaskRemoved(t *testing.T) {
	ev := decode(t, `{"action":"removed","resource":{"gid":"T1","resource_type":"task"}}`)
	if actionType, _ := Classify(ev); actionType != TaskDeleted {
		t.Fatalf("expected task_deleted, got %q", actionType)
	}
}

func TestClassifyTaskChangedFields(t *testing.T) {
	cases := map[string]ActionType{
		"name":     TaskRenamed,
		"assignee": TaskReassigned,
		"due_on":   ActionType("changed"),
	}
	for field, want := range cases {
		ev := decode(t, `{"action":"changed","resource":{"gid":"T1","resource_type":"task"},"change":{"field":"`+field+`","action":"changed"}}`)
		if got, _ := Classify(ev); got != want {
			t.Fatalf("field %s: expected %q, got %q", field, want, got)
		}
	}
}

func TestClassifyMembershipMove(t *testing.T) {
	ev := decode(t, `{
		"action":"changed",
		"resource":{"gid":"T1","resource_type":"task"},
		"change":{
			"field":"memberships",
			"added_value":{"section":{"gid":"S2","name":"Doing"},"project":{"gid":"P1"}},
			"removed_value":{"section":{"gid":"S1","name":"To do"},"project":{"gid":"P1"}}
		}
	}`)
	actionType, details := Classify(ev)
	if actionType != TaskMoved {
		t.Fatalf("expected task_moved, got %q", actionType)
	}
	if details[DetailToSection] != "Doing" {
		t.Fatalf("expected to_section Doing, got %q", details[DetailToSection])
	}
	if details[DetailFromSection] != "To do" {
		t.Fatalf("expected from_section To do, got %q", details[DetailFromSection])
	}
}

func TestClassifyMembershipWithoutSections(t *testing.T) {
	ev := decode(t, `{"action":"changed","resource":{"gid":"T1","resource_type":"task"},"change":{"field":"memberships","added_value":{"project":{"gid":"P1"}}}}`)
	actionType, details := Classify(ev)
	if actionType != TaskMoved {
		t.Fatalf("expected task_moved, got %q", actionType)
	}
	if len(details) != 0 {
		t.Fatalf("expected no section details, got %v", details)
	}
}

func TestClassifyCommentSubtypeOverridesTask(t *testing.T) {
	ev := decode(t, `{"action":"changed","resource":{"gid":"X1","resource_type":"task","resource_subtype":"comment_added"},"change":{"field":"name"}}`)
	if got, _ := Classify(ev); got != CommentAdded {
		t.Fatalf("expected comment_added, got %q", got)
	}
}

func TestClassifyCommentSubtypes(t *testing.T) {
	for _, subtype := range []string{"comment_added", "comment_edited", "comment_deleted"} {
		ev := decode(t, `{"action":"added","resource":{"gid":"S1","resource_type":"story","resource_subtype":"`+subtype+`"},"parent":{"gid":"T1","resource_type":"task"}}`)
		if got, _ := Classify(ev); got != ActionType(subtype) {
			t.Fatalf("expected %s, got %q", subtype, got)
		}
	}
}

func TestClassifyFallbacks(t *testing.T) {
	ev := decode(t, `{"action":"added","resource":{"gid":"P1","resource_type":"project"}}`)
	if got, _ := Classify(ev); got != ActionType("added") {
		t.Fatalf("expected passthrough action, got %q", got)
	}
	if got, _ := Classify(RawEvent{}); got != Unknown {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestClassifyToleratesScalarChangeValues(t *testing.T) {
	ev := decode(t, `{"action":"changed","resource":{"gid":"T1","resource_type":"task"},"change":{"field":"memberships","added_value":"oops","removed_value":42}}`)
	actionType, details := Classify(ev)
	if actionType != TaskMoved {
		t.Fatalf("expected task_moved, got %q", actionType)
	}
	if len(details) != 0 {
		t.Fatalf("expected empty details, got %v", details)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	ev := decode(t, `{"action":"changed","resource":{"gid":"T1","resource_type":"task"},"change":{"field":"memberships","added_value":{"section":{"name":"Done"}}}}`)
	firstType, firstDetails := Classify(ev)
	secondType, secondDetails := Classify(ev)
	if firstType != secondType || !reflect.DeepEqual(firstDetails, secondDetails) {
		t.Fatalf("expected identical classification, got %q/%v and %q/%v", firstType, firstDetails, secondType, secondDetails)
	}
}

func TestDecodeRawEventKeepsRawOnError(t *testing.T) {
	ev, err := DecodeRawEvent([]byte(`{"action":5}`))
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if string(ev.RawJSON()) != `{"action":5}` {
		t.Fatalf("expected raw bytes to be kept, got %s", ev.RawJSON())
	}
	if got, _ := Classify(ev); got != Unknown {
		t.Fatalf("expected unknown for undecodable event, got %q", got)
	}
}
