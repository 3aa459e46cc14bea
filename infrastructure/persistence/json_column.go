package persistence

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a GORM column type for a map[string]any/map[string]string
// stored as JSON text, mirroring Float64Slice's Scan/Value pattern.
type JSONMap map[string]any

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, m)
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// JSONRaw is a GORM column type holding an arbitrary pre-marshaled JSON
// document (used for slices and nested structs where the Go type on the
// domain side doesn't map cleanly onto a map).
type JSONRaw []byte

func (r *JSONRaw) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	*r = append(JSONRaw(nil), data...)
	return nil
}

func (r JSONRaw) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return []byte(r), nil
}

func jsonBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot scan %T into JSON column", value)
	}
}
