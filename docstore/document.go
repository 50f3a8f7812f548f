package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	// IDField holds the document identifier.
	IDField = "id"
	// VersionField holds the optimistic concurrency counter.
	VersionField = "$hz_v$"
)

// Document is a schemaless JSON-like document. A nil Document stands for a
// document that does not exist.
type Document map[string]any

// ID returns the document identifier and whether one is present.
func (d Document) ID() (string, bool) {
	if d == nil {
		return "", false
	}
	raw, ok := d[IDField]
	if !ok || raw == nil {
		return "", false
	}
	id, ok := raw.(string)
	return id, ok
}

// HasID reports whether the document carries an id field of any type.
func (d Document) HasID() bool {
	if d == nil {
		return false
	}
	raw, ok := d[IDField]
	return ok && raw != nil
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a shallow merge of patch onto base. Fields in patch win and
// fields only present in base are kept. Neither input is modified.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// ValidateCollection checks that name can be used as a collection key in
// every store backend.
func ValidateCollection(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCollection)
	}
	if strings.ContainsAny(name, ":{}") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidCollection, name)
	}
	return nil
}

func validateCandidate(i int, doc Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document %d is null", ErrInvalidDocument, i)
	}
	for field := range doc {
		if field == "" || strings.Contains(field, ".") || (strings.HasPrefix(field, "$") && field != VersionField) {
			return fmt.Errorf("%w: document %d has invalid field name %q", ErrInvalidDocument, i, field)
		}
	}
	if doc.HasID() {
		id, ok := doc.ID()
		if !ok || id == "" {
			return fmt.Errorf("%w: document %d id must be a non-empty string", ErrInvalidDocument, i)
		}
	}
	if raw, ok := doc[VersionField]; ok && raw != nil {
		v, ok := toVersion(raw)
		if !ok || v < 0 {
			return fmt.Errorf("%w: document %d %s must be a non-negative integer", ErrInvalidDocument, i, VersionField)
		}
	}
	return nil
}

// toVersion normalises the numeric types produced by the JSON, BSON and Lua
// decoders into an int64.
func toVersion(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.Abs(v) >= 1<<63 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
