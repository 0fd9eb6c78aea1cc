package internal

import (
	"encoding/json"
	"fmt"
)

// Flatten takes a nested map and returns a new map with the keys flattened into a single level.
// Nested map keys are joined with a ".".
// For example, `{"a": {"b": 1}}` becomes `{"a.b": 1}`.
// Arrays keep the whole slice under "key" and "key[]" and each element under "key[i]".
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

// DecodeAndFlatten decodes a JSON document and returns it both as-is and
// flattened. Non-object documents flatten to an empty map.
func DecodeAndFlatten(raw []byte) (interface{}, map[string]interface{}) {
	var out interface{}
	if len(raw) == 0 {
		return nil, map[string]interface{}{}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, map[string]interface{}{}
	}
	objectMap, ok := out.(map[string]interface{})
	if !ok {
		return out, map[string]interface{}{}
	}
	return out, Flatten(objectMap)
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		if len(typed) == 0 {
			out[path] = typed
			return
		}
		for key, child := range typed {
			next := fmt.Sprintf("%s.%s", path, key)
			flattenInto(out, next, child)
		}
	case []interface{}:
		out[path] = typed
		out[path+"[]"] = typed
		for i, child := range typed {
			next := fmt.Sprintf("%s[%d]", path, i)
			flattenInto(out, next, child)
		}
	default:
		out[path] = value
	}
}
