package sampler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
)

func set(ids ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestUniform_SampleExcludesHistory(t *testing.T) {
	tests := []struct {
		name     string
		k        int
		universe int
	}{
		{"sparse rejection", 3, 100},
		{"dense shuffle", 6, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUniform(tt.k, tt.universe, WithSeed(7))
			require.NoError(t, err)

			req := Request{UserID: "u1", Position: 3, Positive: 2, Exclude: set(1, 2, 3)}
			negs, shrunk, err := u.Sample(req)
			require.NoError(t, err)
			assert.False(t, shrunk)
			require.Len(t, negs, tt.k)

			seen := set()
			for _, id := range negs {
				assert.GreaterOrEqual(t, id, 1)
				assert.LessOrEqual(t, id, tt.universe)
				assert.NotContains(t, req.Exclude, id)
				assert.NotContains(t, seen, id, "sampled without replacement")
				seen[id] = struct{}{}
			}

			again, _, err := u.Sample(req)
			require.NoError(t, err)
			assert.Equal(t, negs, again, "same seed, user and position")
		})
	}
}

func TestUniform_Shortfall(t *testing.T) {
	req := Request{UserID: "u1", Position: 1, Positive: 5, Exclude: set(1, 2, 5)}

	u, err := NewUniform(4, 5)
	require.NoError(t, err)
	negs, shrunk, err := u.Sample(req)
	require.NoError(t, err)
	assert.True(t, shrunk)
	assert.ElementsMatch(t, []int{3, 4}, negs)

	u, err = NewUniform(4, 5, WithShortfall(ShortfallFail))
	require.NoError(t, err)
	_, _, err = u.Sample(req)
	require.Error(t, err)
	assert.True(t, core.IsInsufficientCandidates(err))
	assert.False(t, core.IsFatal(err))
}

func TestUniform_PositiveAlwaysExcluded(t *testing.T) {
	u, err := NewUniform(2, 3)
	require.NoError(t, err)
	negs, shrunk, err := u.Sample(Request{UserID: "u", Positive: 3})
	require.NoError(t, err)
	assert.False(t, shrunk)
	assert.ElementsMatch(t, []int{1, 2}, negs)
}

func TestNewUniform_Errors(t *testing.T) {
	_, err := NewUniform(0, 10)
	assert.Error(t, err)
	_, err = NewUniform(1, -1)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	var s Sampler = Disabled{}
	assert.False(t, s.Enabled())
	negs, shrunk, err := s.Sample(Request{UserID: "u"})
	assert.NoError(t, err)
	assert.False(t, shrunk)
	assert.Nil(t, negs)
}

func TestParseShortfallPolicy(t *testing.T) {
	p, err := ParseShortfallPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ShortfallShrink, p)
	p, err = ParseShortfallPolicy("FAIL")
	require.NoError(t, err)
	assert.Equal(t, "fail", p.String())
	_, err = ParseShortfallPolicy("raise")
	assert.Error(t, err)
}

func buildHistories(t *testing.T, items map[string][]string) *sequence.Histories {
	t.Helper()
	var raw []schema.RawField
	for _, d := range []string{"user_id:token", "item_id:token", "timestamp:float"} {
		rf, err := schema.ParseRawField(d, schema.SourceInteraction)
		require.NoError(t, err)
		raw = append(raw, rf)
	}
	s, err := schema.Validate(raw, schema.FeatureConfig{UserIDField: "user_id", ItemIDField: "item_id", TimeField: "timestamp"})
	require.NoError(t, err)

	var records []*core.Record
	for user, list := range items {
		for i, item := range list {
			records = append(records, &core.Record{Index: len(records), UserID: user, ItemID: item, Timestamp: float64(i)})
		}
	}
	b, err := sequence.NewBuilder(s, 2)
	require.NoError(t, err)
	hs, err := b.Build(records)
	require.NoError(t, err)
	return hs
}

func allWindows(hs *sequence.Histories) []*sequence.Window {
	var out []*sequence.Window
	for h := range hs.All() {
		for w := range hs.Windows(h) {
			out = append(out, w)
		}
	}
	return out
}

func TestAnnotate(t *testing.T) {
	// 物品全集 a..f；u1 交互过 a b c d，候选只剩 e f
	hs := buildHistories(t, map[string][]string{
		"u1": {"a", "b", "c", "d"},
		"u2": {"e", "f"},
	})
	windows := allWindows(hs)
	require.Len(t, windows, 6)

	u, err := NewUniform(2, hs.Items.Len(), WithSeed(1))
	require.NoError(t, err)

	kept, stats, err := Annotate(hs, windows, u, WithWorkers(3))
	require.NoError(t, err)
	assert.Len(t, kept, 6)
	assert.Equal(t, Stats{Sampler: "uniform", K: 2, Windows: 6, Negatives: 12}, stats)

	for _, w := range kept {
		if w.UserID == "u1" {
			assert.ElementsMatch(t, []int{5, 6}, w.Negatives)
		}
		for _, id := range w.Negatives {
			assert.NotEqual(t, w.Target.ItemID, id)
		}
	}
}

func TestAnnotate_FailSkipsWindows(t *testing.T) {
	hs := buildHistories(t, map[string][]string{
		"u1": {"a", "b", "c", "d"},
		"u2": {"e"},
	})
	u, err := NewUniform(3, hs.Items.Len(), WithShortfall(ShortfallFail))
	require.NoError(t, err)

	kept, stats, err := Annotate(hs, allWindows(hs), u)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Skipped, "u1 has one candidate")
	require.Len(t, kept, 1)
	assert.Equal(t, "u2", kept[0].UserID)
	assert.Len(t, kept[0].Negatives, 3)
}

func TestAnnotate_Deterministic(t *testing.T) {
	lists := map[string][]string{}
	for u := 0; u < 6; u++ {
		for i := 0; i < 5; i++ {
			lists[fmt.Sprintf("u%d", u)] = append(lists[fmt.Sprintf("u%d", u)], fmt.Sprintf("i%02d", (u*3+i)%20))
		}
	}
	run := func(workers int) [][]int {
		hs := buildHistories(t, lists)
		u, err := NewUniform(4, hs.Items.Len(), WithSeed(42))
		require.NoError(t, err)
		kept, _, err := Annotate(hs, allWindows(hs), u, WithWorkers(workers))
		require.NoError(t, err)
		var out [][]int
		for _, w := range kept {
			out = append(out, w.Negatives)
		}
		return out
	}
	assert.Equal(t, run(1), run(5))
}

func TestAnnotate_DisabledPassesThrough(t *testing.T) {
	hs := buildHistories(t, map[string][]string{"u1": {"a", "b"}})
	windows := allWindows(hs)
	kept, stats, err := Annotate(hs, windows, Disabled{})
	require.NoError(t, err)
	assert.Equal(t, windows, kept)
	assert.Equal(t, Stats{Sampler: "none", Windows: 2}, stats)
}
