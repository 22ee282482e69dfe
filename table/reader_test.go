package table

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
)

const interFile = "user_id:token\titem_id:token\ttimestamp:float\trating:float\tctx:token_seq\n" +
	"u1\ti1\t1700000001\t4\tweb mobile\n" +
	"u1\ti2\t1700000002.5\t5\t\n" +
	"\n" +
	"u2\ti1\t1700000003\t3\tapp\n"

const itemFile = "item_id:token\titem_emb:float_seq\tcategory:token_seq\n" +
	"i1\t0.1,0.2,0.3\tbooks,fiction\n" +
	"i2\t1,2,3\tmusic\n"

func TestRead_ParsesHeaderAndRows(t *testing.T) {
	f, err := Read(strings.NewReader(interFile), schema.SourceInteraction, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, f.Len())
	require.Len(t, f.Fields, 5)
	assert.Equal(t, "ctx:token_seq", f.Fields[4].Decl())
	assert.Equal(t, 2, f.Column("timestamp"))
	assert.Equal(t, -1, f.Column("missing"))
	assert.Equal(t, []string{"u2", "i1", "1700000003", "3", "app"}, f.Cells[2])
}

func TestRead_ProjectsColumns(t *testing.T) {
	f, err := Read(strings.NewReader(interFile), schema.SourceInteraction, Options{
		Columns: []string{"user_id", "item_id", "timestamp"},
	})
	require.NoError(t, err)
	require.Len(t, f.Fields, 3)
	assert.Equal(t, []string{"u1", "i2", "1700000002.5"}, f.Cells[1])
}

func TestRead_StripsBOM(t *testing.T) {
	f, err := Read(strings.NewReader("\uFEFF"+interFile), schema.SourceInteraction, Options{})
	require.NoError(t, err)
	require.Len(t, f.Fields, 5)
	assert.Equal(t, "user_id", f.Fields[0].Name)
	assert.Equal(t, 0, f.Column("user_id"))
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "bad header", in: "user_id\titem_id:token\n"},
		{name: "cell count", in: "user_id:token\titem_id:token\nu1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), schema.SourceInteraction, Options{})
			require.Error(t, err)
			assert.Equal(t, core.ErrorCodeInvalidInput, core.GetDomainError(err).Code)
		})
	}
}

func TestOpen_Zstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(interFile))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "ml.inter.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := Open(path, schema.SourceInteraction, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.inter"), schema.SourceInteraction, Options{})
	assert.Error(t, err)
}

func TestFrame_InteractionsAndEntities(t *testing.T) {
	inter, err := Read(strings.NewReader(interFile), schema.SourceInteraction, Options{})
	require.NoError(t, err)
	items, err := Read(strings.NewReader(itemFile), schema.SourceItem, Options{SeqSeparator: ","})
	require.NoError(t, err)

	raw := append(append([]schema.RawField{}, inter.Fields...), items.Fields...)
	s, err := schema.Validate(raw, schema.FeatureConfig{
		UserIDField:     "user_id",
		ItemIDField:     "item_id",
		TimeField:       "timestamp",
		RatingField:     "rating",
		NumericalFields: []string{"item_emb"},
		NumericalDims:   map[string]int{"item_emb": 3},
		Preparations:    []schema.Preparation{{Field: "ctx", Type: "token", Source: "interaction", List: true}},
		TextFields:      []string{"ctx"},
	})
	require.NoError(t, err)

	its, err := inter.Interactions(s)
	require.NoError(t, err)
	require.Len(t, its, 3)
	assert.Equal(t, 1700000002.5, its[1].Timestamp)
	assert.Equal(t, 5.0, its[1].Rating)
	assert.Equal(t, core.TokensValue("web", "mobile"), its[0].Fields["ctx"])
	assert.Empty(t, its[1].Fields["ctx"].Tokens)

	rows, err := items.Entities(s, "item_id")
	require.NoError(t, err)
	require.Contains(t, rows, "i1")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, rows["i1"]["item_emb"].Floats)
	assert.Equal(t, []string{"books", "fiction"}, rows["i1"]["category"].Tokens)

	_, err = items.Entities(s, "user_id")
	assert.True(t, core.IsUnknownField(err))
}

func TestParseCell(t *testing.T) {
	v, err := ParseCell(" 2.5 ", schema.TypeFloat, false, " ")
	require.NoError(t, err)
	assert.Equal(t, core.FloatValue(2.5), v)

	v, err = ParseCell("", schema.TypeFloat, false, " ")
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = ParseCell("x", schema.TypeFloat, false, " ")
	assert.Error(t, err)

	v, err = ParseCell("a|b", schema.TypeToken, true, "|")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Tokens)
}

func TestFrame_InteractionsRejectNonFinite(t *testing.T) {
	const header = "user_id:token\titem_id:token\ttimestamp:float\trating:float\n"
	schemaOf := func(t *testing.T, f *Frame) *schema.Schema {
		t.Helper()
		s, err := schema.Validate(f.Fields, schema.FeatureConfig{
			UserIDField: "user_id",
			ItemIDField: "item_id",
			TimeField:   "timestamp",
			RatingField: "rating",
		})
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name  string
		row   string
		field string
	}{
		{"empty timestamp", "u1\ti2\t\t1", "timestamp"},
		{"nan timestamp", "u1\ti3\tNaN\t1", "timestamp"},
		{"inf timestamp", "u1\ti3\t+Inf\t1", "timestamp"},
		{"empty rating", "u1\ti2\t100\t", "rating"},
		{"nan rating", "u1\ti2\t100\tnan", "rating"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Read(strings.NewReader(header+"u1\ti1\t100\t1\n"+tt.row+"\n"), schema.SourceInteraction, Options{})
			require.NoError(t, err)

			its, err := f.Interactions(schemaOf(t, f))
			require.Error(t, err)
			assert.Nil(t, its)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
			assert.ErrorContains(t, err, "row 2 field "+tt.field)
		})
	}
}
