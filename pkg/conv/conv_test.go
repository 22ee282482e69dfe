package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloats(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		sep     string
		want    []float32
		wantErr bool
	}{
		{name: "space separated", in: "0.5 1 2", sep: " ", want: []float32{0.5, 1, 2}},
		{name: "comma separated", in: "0.5,1,,2", sep: ",", want: []float32{0.5, 1, 2}},
		{name: "empty", in: "  ", sep: " ", want: []float32{}},
		{name: "whitespace fallback", in: "1\t2", sep: "", want: []float32{1, 2}},
		{name: "bad value", in: "1 x", sep: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFloats(tt.in, tt.sep)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFloat32Slice(t *testing.T) {
	got, ok := ToFloat32Slice([]any{1.0, 2, "3"})
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	_, ok = ToFloat32Slice([]any{1.0, "x"})
	assert.False(t, ok)

	_, ok = ToFloat32Slice("1 2")
	assert.False(t, ok)
}

func TestConfigGet(t *testing.T) {
	m := map[string]any{
		"addr":  "localhost:6379",
		"db":    2,
		"ratio": 0.5,
		"refs":  map[string]any{"item_emb": "item_view:emb", "n": 1},
		"ids":   []any{"a", 3.0},
	}
	assert.Equal(t, "localhost:6379", ConfigGet(m, "addr", ""))
	assert.Equal(t, "fallback", ConfigGet(m, "missing", "fallback"))
	assert.Equal(t, int64(2), ConfigGetInt64(m, "db", 0))
	assert.Equal(t, int64(0), ConfigGetInt64(m, "ratio", 7))
	assert.Equal(t, map[string]string{"item_emb": "item_view:emb", "n": "1"}, ConfigGetStringMap(m, "refs"))
	assert.Equal(t, []string{"a", "3"}, SliceAnyToString(m["ids"]))
}
