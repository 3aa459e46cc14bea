package persistence

import "encoding/json"

// marshalJSON is a convenience wrapper used by the store files below to
// build JSONRaw columns from domain slices/structs.
func marshalJSON(v any) JSONRaw {
	b, err := json.Marshal(v)
	if err != nil {
		return JSONRaw("null")
	}
	return JSONRaw(b)
}
