package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/store"
)

func itemFields() []*schema.Field {
	return []*schema.Field{
		{Name: "brand", Type: schema.TypeToken, Source: schema.SourceItem},
		{Name: "category", Type: schema.TypeToken, Source: schema.SourceItem, IsList: true},
		{Name: "price", Type: schema.TypeFloat, Source: schema.SourceItem, Dim: 1},
		{Name: "item_emb", Type: schema.TypeFloat, Source: schema.SourceItem, IsList: true, Dim: 3},
	}
}

func TestRowCodec_Decode(t *testing.T) {
	c := NewRowCodec(itemFields())

	row, err := c.Decode([]byte(`{"brand": 42, "category": ["a", "b"], "price": "9.5", "item_emb": [0.1, 0.2, 0.3], "extra": true}`))
	require.NoError(t, err)
	assert.Equal(t, core.TokenValue("42"), row["brand"])
	assert.Equal(t, []string{"a", "b"}, row["category"].Tokens)
	assert.Equal(t, core.FloatValue(9.5), row["price"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, row["item_emb"].Floats)
	assert.NotContains(t, row, "extra")

	_, err = c.Decode([]byte(`{"item_emb": "0.1 0.2"}`))
	require.Error(t, err)
	assert.Equal(t, core.ErrorCodeTypeMismatch, core.GetDomainError(err).Code)

	_, err = c.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestRowCodec_RoundTrip(t *testing.T) {
	c := NewRowCodec(itemFields())
	in := map[string]core.Value{
		"brand":    core.TokenValue("acme"),
		"category": core.TokensValue("x"),
		"price":    core.FloatValue(2),
		"item_emb": core.VectorValue([]float32{1, 2, 3}),
	}
	data, err := c.Encode(in)
	require.NoError(t, err)
	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStoreSource_Fetch(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	c := NewRowCodec(itemFields())
	for id, emb := range map[string][]float32{"i1": {1, 0, 0}, "i2": {0, 1, 0}, "i3": {0, 0, 1}} {
		data, err := c.Encode(map[string]core.Value{"item_emb": core.VectorValue(emb)})
		require.NoError(t, err)
		require.NoError(t, ms.Set(ctx, "item:"+id, data))
	}

	src := NewStoreSource(ms, itemFields(), WithKeyPrefix("item:"), WithBatchSize(2))
	assert.Equal(t, "store.memory", src.Name())

	tbl, err := LoadTable(ctx, "item", src, []string{"i1", "i2", "i3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"i1", "i2", "i3"}, tbl.IDs())

	row, ok := tbl.Lookup("i2")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1, 0}, row["item_emb"].Floats)

	_, ok = tbl.Lookup("missing")
	assert.False(t, ok)
}

func TestStoreSource_DecodeErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.Set(ctx, "i1", []byte(`{"category": "flat"}`)))

	_, err := LoadTable(ctx, "item", NewStoreSource(ms, itemFields()), []string{"i1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode i1")
}

func TestMapSource(t *testing.T) {
	rows := map[string]map[string]core.Value{
		"u1": {"region": core.TokenValue("eu")},
		"u2": {"region": core.TokenValue("us")},
	}
	src := NewMapSource("file", rows)

	all, err := src.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := src.Fetch(context.Background(), []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]core.Value{"u2": rows["u2"]}, some)

	var nilTable *Table
	_, ok := nilTable.Lookup("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, nilTable.Len())
}
