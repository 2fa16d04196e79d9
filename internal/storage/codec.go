package storage

import (
	"encoding/json"
	"fmt"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Listing fields, raw records and diffs are stored as JSON documents by
// every backend. These helpers keep the encoding identical across them.

// EncodeFields marshals a listing's normalized fields.
func EncodeFields(f types.Fields) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}

// DecodeFields unmarshals a listing's normalized fields.
func DecodeFields(s string) (types.Fields, error) {
	var f types.Fields
	if s == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return f, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return f, nil
}

// EncodeRaw marshals the raw record a listing was last normalized from.
// A nil record encodes as "".
func EncodeRaw(r *types.RawRecord) (string, error) {
	if r == nil {
		return "", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal raw record: %w", err)
	}
	return string(data), nil
}

// DecodeRaw unmarshals a raw record. "" decodes as nil.
func DecodeRaw(s string) (*types.RawRecord, error) {
	if s == "" {
		return nil, nil
	}
	var r types.RawRecord
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw record: %w", err)
	}
	return &r, nil
}

// EncodeDiff marshals a history diff. An empty diff encodes as "".
func EncodeDiff(d []types.FieldChange) (string, error) {
	if len(d) == 0 {
		return "", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal diff: %w", err)
	}
	return string(data), nil
}

// DecodeDiff unmarshals a history diff.
func DecodeDiff(s string) ([]types.FieldChange, error) {
	if s == "" {
		return nil, nil
	}
	var d []types.FieldChange
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal diff: %w", err)
	}
	return d, nil
}
