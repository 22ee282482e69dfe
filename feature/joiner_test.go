package feature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
)

func testSchema(t *testing.T, dim int) *schema.Schema {
	t.Helper()
	var raw []schema.RawField
	for _, d := range []struct {
		decl   string
		origin schema.Source
	}{
		{"user_id:token", schema.SourceInteraction},
		{"item_id:token", schema.SourceInteraction},
		{"timestamp:float", schema.SourceInteraction},
		{"user_id:token", schema.SourceUser},
		{"region:token", schema.SourceUser},
		{"item_id:token", schema.SourceItem},
		{"item_emb:float_seq", schema.SourceItem},
	} {
		rf, err := schema.ParseRawField(d.decl, d.origin)
		require.NoError(t, err)
		raw = append(raw, rf)
	}
	s, err := schema.Validate(raw, schema.FeatureConfig{
		UserIDField:     "user_id",
		ItemIDField:     "item_id",
		TimeField:       "timestamp",
		UserFeatures:    []string{"region"},
		NumericalFields: []string{"item_emb"},
		NumericalDims:   map[string]int{"item_emb": dim},
	})
	require.NoError(t, err)
	return s
}

func vec(n int, v float32) core.Value {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return core.VectorValue(out)
}

func interactions() []core.Interaction {
	return []core.Interaction{
		{UserID: "u1", ItemID: "i1", Timestamp: 3},
		{UserID: "u2", ItemID: "i2", Timestamp: 1},
		{UserID: "u1", ItemID: "i2", Timestamp: 2},
		{UserID: "ghost", ItemID: "i1", Timestamp: 4},
		{UserID: "u2", ItemID: "i9", Timestamp: 5},
	}
}

func tables(dim int) (*Table, *Table) {
	users := NewTable("user", map[string]map[string]core.Value{
		"u1": {"region": core.TokenValue("eu")},
		"u2": {},
	})
	items := NewTable("item", map[string]map[string]core.Value{
		"i1": {"item_emb": vec(dim, 0.5)},
		"i2": {"item_emb": vec(dim, 1)},
	})
	return users, items
}

func TestJoin_DropPreservesOrder(t *testing.T) {
	s := testSchema(t, 4)
	users, items := tables(4)

	recs, stats, err := NewJoiner(s, users, items).Join(interactions())
	require.NoError(t, err)

	require.Len(t, recs, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{recs[0].Index, recs[1].Index, recs[2].Index})
	assert.Equal(t, "eu", recs[0].Features["region"].Token())
	assert.Equal(t, DefaultToken, recs[1].Features["region"].Token(), "absent token column falls back to default token")
	assert.Equal(t, vec(4, 1), recs[2].Features["item_emb"])

	assert.Equal(t, JoinStats{Input: 5, Output: 3, DroppedUser: 1, DroppedItem: 1, DefaultedFields: 1}, stats)
	assert.Equal(t, 2, stats.Dropped())
}

func TestJoin_DefaultPolicy(t *testing.T) {
	s := testSchema(t, 4)
	users, items := tables(4)

	recs, stats, err := NewJoiner(s, users, items,
		WithMissPolicy(MissDefault), WithDefaultToken("<unk>")).Join(interactions())
	require.NoError(t, err)

	require.Len(t, recs, 5)
	assert.Equal(t, "<unk>", recs[3].Features["region"].Token())
	assert.Equal(t, vec(4, 0), recs[4].Features["item_emb"])
	assert.Equal(t, 1, stats.DefaultedUser)
	assert.Equal(t, 1, stats.DefaultedItem)
	assert.Equal(t, 2, stats.DefaultedFields, "u2 row lacks region on both of its records")
}

func TestJoin_FatalPolicy(t *testing.T) {
	s := testSchema(t, 4)
	users, items := tables(4)

	recs, _, err := NewJoiner(s, users, items, WithMissPolicy(MissFatal)).Join(interactions())
	require.Error(t, err)
	assert.Nil(t, recs)
	assert.True(t, core.IsMissingEntity(err))
	de := core.GetDomainError(err)
	assert.Equal(t, "ghost", de.Entity)
}

func TestJoin_DimensionMismatchAborts(t *testing.T) {
	s := testSchema(t, 384)
	users := NewTable("user", map[string]map[string]core.Value{"u1": {"region": core.TokenValue("eu")}})
	items := NewTable("item", map[string]map[string]core.Value{"i1": {"item_emb": vec(300, 0.1)}})

	recs, _, err := NewJoiner(s, users, items, WithMissPolicy(MissDefault)).Join([]core.Interaction{
		{UserID: "u1", ItemID: "i1", Timestamp: 1},
	})
	require.Error(t, err)
	assert.True(t, core.IsDimensionMismatch(err))
	assert.True(t, core.IsFatal(err))
	assert.Empty(t, recs)
	assert.Contains(t, err.Error(), "declared 384, got 300")
}

func TestJoin_MissingVectorIsDimensionMismatch(t *testing.T) {
	s := testSchema(t, 4)
	users := NewTable("user", map[string]map[string]core.Value{"u1": {}})
	items := NewTable("item", map[string]map[string]core.Value{"i1": {}})

	_, _, err := NewJoiner(s, users, items).Join([]core.Interaction{{UserID: "u1", ItemID: "i1"}})
	assert.True(t, core.IsDimensionMismatch(err))
}

func TestParseMissPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    MissPolicy
		wantErr bool
	}{
		{in: "", want: MissDrop},
		{in: "drop", want: MissDrop},
		{in: "Default", want: MissDefault},
		{in: "fatal", want: MissFatal},
		{in: "skip", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMissPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" {
				assert.Equal(t, strings.ToLower(tt.in), got.String())
			}
		})
	}
}
