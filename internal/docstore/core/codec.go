package core

import (
	"encoding/json"
	"fmt"
)

// Encode converts a typed record into document data, dropping the reserved id and
// timestamp fields the store owns.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	delete(out, FieldID)
	delete(out, FieldCreatedAt)
	delete(out, FieldUpdatedAt)
	return out, nil
}

// Decode fills v from doc, including the id and server timestamps when v declares them.
func Decode(doc Document, v any) error {
	data := make(map[string]any, len(doc.Data)+3)
	for k, val := range doc.Data {
		data[k] = val
	}
	data[FieldID] = doc.ID
	if !doc.CreatedAt.IsZero() {
		data[FieldCreatedAt] = doc.CreatedAt
	}
	if !doc.UpdatedAt.IsZero() {
		data[FieldUpdatedAt] = doc.UpdatedAt
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	return nil
}
