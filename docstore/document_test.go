package docstore

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	base := Document{"id": "a", "x": 1, "keep": true}
	patch := Document{"x": 2, "new": "yes"}

	merged := Merge(base, patch)
	assert.Equal(t, Document{"id": "a", "x": 2, "keep": true, "new": "yes"}, merged)
	assert.Equal(t, 1, base["x"], "base must not be modified")
	assert.Len(t, patch, 2, "patch must not be modified")
}

func TestDocumentID(t *testing.T) {
	id, ok := Document{"id": "a"}.ID()
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	_, ok = Document{"id": 5}.ID()
	assert.False(t, ok)
	assert.True(t, Document{"id": 5}.HasID())

	_, ok = Document{"id": nil}.ID()
	assert.False(t, ok)
	assert.False(t, Document(nil).HasID())
}

func TestValidateCollection(t *testing.T) {
	require.NoError(t, ValidateCollection("users"))
	for _, name := range []string{"", "  ", "a:b", "a{b", "a}b"} {
		require.ErrorIs(t, ValidateCollection(name), ErrInvalidCollection, name)
	}
}

func TestValidateCandidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{name: "plain", doc: Document{"x": 1}},
		{name: "with_id_and_version", doc: Document{"id": "a", VersionField: float64(0)}},
		{name: "null_version", doc: Document{VersionField: nil}},
		{name: "null_document", doc: nil, wantErr: true},
		{name: "numeric_id", doc: Document{"id": 1}, wantErr: true},
		{name: "empty_id", doc: Document{"id": ""}, wantErr: true},
		{name: "negative_version", doc: Document{VersionField: -1}, wantErr: true},
		{name: "string_version", doc: Document{VersionField: "1"}, wantErr: true},
		{name: "dotted_field", doc: Document{"a.b": 1}, wantErr: true},
		{name: "dollar_field", doc: Document{"$set": 1}, wantErr: true},
		{name: "empty_field", doc: Document{"": 1}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCandidate(0, tc.doc)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidDocument)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeUnauthorized, ErrorCode(ErrUnauthorized))
	assert.Equal(t, CodeInvalidated, ErrorCode(ErrInvalidated))
	assert.Equal(t, CodeInternal, ErrorCode(&ConsistencyError{Detail: "x"}))
}

func TestToVersion(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		want   int64
		wantOK bool
	}{
		{name: "int", raw: 3, want: 3, wantOK: true},
		{name: "int32", raw: int32(4), want: 4, wantOK: true},
		{name: "whole_float", raw: float64(5), want: 5, wantOK: true},
		{name: "json_number", raw: json.Number("6"), want: 6, wantOK: true},
		{name: "largest_exact_float", raw: float64(1 << 62), want: 1 << 62, wantOK: true},
		{name: "fractional_float", raw: 0.5},
		{name: "float_at_int64_overflow", raw: float64(1 << 63)},
		{name: "float_far_out_of_range", raw: -1e300},
		{name: "infinity", raw: math.Inf(1)},
		{name: "nan", raw: math.NaN()},
		{name: "fractional_json_number", raw: json.Number("1.5")},
		{name: "string", raw: "1"},
		{name: "null", raw: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := toVersion(tc.raw)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
