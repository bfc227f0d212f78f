package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque identifier. Servers may emit ids as JSON numbers or strings;
// both decode to the same textual form, and IDs always encode as strings.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("model.ID: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("model.ID: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Less orders ids numerically when both are integers, lexically otherwise.
func (id ID) Less(other ID) bool {
	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return id < other
}

// IDPtr returns nil for an empty id, so optional references stay omitted on the wire.
func IDPtr(id ID) *ID {
	if id == "" {
		return nil
	}
	return &id
}

// Deref returns the referenced id or "".
func Deref(id *ID) ID {
	if id == nil {
		return ""
	}
	return *id
}
