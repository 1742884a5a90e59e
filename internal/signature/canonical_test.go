package signature

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Expected strings below mirror json.dumps(..., sort_keys=True) output from
// the original request producer, including its separators and ASCII escapes.
func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "sorted keys with producer separators",
			in:   map[string]any{"key": "TS-AAAAAAAAAAAAAAAA", "device_id": "dev1"},
			want: `{"device_id": "dev1", "key": "TS-AAAAAAAAAAAAAAAA"}`,
		},
		{
			name: "nested object sorted recursively",
			in: map[string]any{
				"key": "TS-AAAAAAAAAAAAAAAA",
				"device_info": map[string]any{
					"platform": "linux",
					"arch":     "amd64",
					"hostname": "build-01",
				},
			},
			want: `{"device_info": {"arch": "amd64", "hostname": "build-01", "platform": "linux"}, "key": "TS-AAAAAAAAAAAAAAAA"}`,
		},
		{
			name: "numbers render as literals",
			in:   map[string]any{"count": json.Number("42"), "ratio": json.Number("0.5")},
			want: `{"count": 42, "ratio": 0.5}`,
		},
		{
			name: "booleans and null",
			in:   map[string]any{"a": true, "b": false, "c": nil},
			want: `{"a": true, "b": false, "c": null}`,
		},
		{
			name: "array",
			in:   []any{"a", json.Number("1"), nil},
			want: `["a", 1, null]`,
		},
		{
			name: "non-ascii escapes to bmp sequence",
			in:   map[string]any{"hostname": "büro"},
			want: "{\"hostname\": \"b\\u00fcro\"}",
		},
		{
			name: "astral plane uses surrogate pair",
			in:   map[string]any{"note": "\U0001F511"},
			want: "{\"note\": \"\\ud83d\\udd11\"}",
		},
		{
			name: "control and quote escapes",
			in:   map[string]any{"v": "a\"b\\c\nd\x01"},
			want: "{\"v\": \"a\\\"b\\\\c\\nd\\u0001\"}",
		},
		{
			name: "empty object",
			in:   map[string]any{},
			want: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeUnsupportedType(t *testing.T) {
	_, err := canonicalize(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
