package internal

import "testing"

// TestFlattenNestedAndArray tests that a nested event document with an array is flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"details": map[string]interface{}{
			"to_section":   "Done",
			"from_section": nil,
		},
		"raw": map[string]interface{}{
			"memberships": []interface{}{
				map[string]interface{}{"gid": "P1"},
				map[string]interface{}{"gid": "P2"},
			},
		},
	}

	flat := Flatten(input)
	if flat["details.to_section"] != "Done" {
		t.Fatalf("expected details.to_section to be Done")
	}
	if v, ok := flat["details.from_section"]; !ok || v != nil {
		t.Fatalf("expected details.from_section to be present and nil")
	}
	if _, ok := flat["raw.memberships[]"]; !ok {
		t.Fatalf("expected raw.memberships[] to exist")
	}
	if flat["raw.memberships[1].gid"] != "P2" {
		t.Fatalf("expected raw.memberships[1].gid to be P2")
	}
}

func TestDecodeAndFlattenNonObject(t *testing.T) {
	obj, flat := DecodeAndFlatten([]byte(`[1,2]`))
	if obj == nil {
		t.Fatalf("expected decoded array")
	}
	if len(flat) != 0 {
		t.Fatalf("expected empty flattened map, got %v", flat)
	}
	if _, flat := DecodeAndFlatten([]byte(`not json`)); len(flat) != 0 {
		t.Fatalf("expected empty map for invalid json")
	}
}
