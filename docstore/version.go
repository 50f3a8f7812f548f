package docstore

import "math"

// unsatisfiableVersion is the expectation of a candidate that declares a null
// version. No stored document, versioned or not, carries it.
const unsatisfiableVersion int64 = math.MinInt64

// DefaultedVersion returns the document's version, or -1 when the document
// is absent or was stored without one.
func DefaultedVersion(doc Document) int64 {
	if doc == nil {
		return -1
	}
	raw, ok := doc[VersionField]
	if !ok {
		return -1
	}
	v, ok := toVersion(raw)
	if !ok {
		return -1
	}
	return v
}

// ExpectedVersion returns the version a candidate declares it was based on.
// A version field that is present but null is an expectation no stored
// document can meet.
func ExpectedVersion(doc Document) (int64, bool) {
	if doc == nil {
		return 0, false
	}
	raw, ok := doc[VersionField]
	if !ok {
		return 0, false
	}
	if raw == nil {
		return unsatisfiableVersion, true
	}
	return toVersion(raw)
}

func NextVersion(v int64) int64 {
	return v + 1
}

// WithVersion returns a copy of doc with the version field set.
func WithVersion(doc Document, v int64) Document {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	out[VersionField] = v
	return out
}
