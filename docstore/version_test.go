package docstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultedVersion(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want int64
	}{
		{name: "absent_document", doc: nil, want: -1},
		{name: "no_version_field", doc: Document{"id": "a"}, want: -1},
		{name: "int", doc: Document{VersionField: 3}, want: 3},
		{name: "int32", doc: Document{VersionField: int32(4)}, want: 4},
		{name: "int64", doc: Document{VersionField: int64(5)}, want: 5},
		{name: "whole_float", doc: Document{VersionField: float64(6)}, want: 6},
		{name: "json_number", doc: Document{VersionField: json.Number("7")}, want: 7},
		{name: "fractional_float", doc: Document{VersionField: 1.5}, want: -1},
		{name: "string", doc: Document{VersionField: "2"}, want: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultedVersion(tc.doc))
		})
	}
}

func TestExpectedVersion(t *testing.T) {
	_, ok := ExpectedVersion(Document{"id": "a"})
	assert.False(t, ok)

	v, ok := ExpectedVersion(Document{VersionField: nil})
	assert.True(t, ok)
	assert.Less(t, v, DefaultedVersion(nil))

	v, ok = ExpectedVersion(Document{VersionField: float64(2)})
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, int64(0), NextVersion(-1))
	assert.Equal(t, int64(8), NextVersion(7))
}

func TestWithVersionDoesNotMutate(t *testing.T) {
	in := Document{"id": "a", VersionField: 1}
	out := WithVersion(in, 2)

	assert.Equal(t, 1, in[VersionField])
	assert.Equal(t, int64(2), out[VersionField])
	assert.Equal(t, "a", out["id"])

	fresh := WithVersion(nil, 0)
	assert.Equal(t, Document{VersionField: int64(0)}, fresh)
}
