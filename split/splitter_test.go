package split

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	var raw []schema.RawField
	for _, d := range []string{"user_id:token", "item_id:token", "timestamp:float"} {
		rf, err := schema.ParseRawField(d, schema.SourceInteraction)
		require.NoError(t, err)
		raw = append(raw, rf)
	}
	s, err := schema.Validate(raw, schema.FeatureConfig{
		UserIDField: "user_id",
		ItemIDField: "item_id",
		TimeField:   "timestamp",
	})
	require.NoError(t, err)
	return s
}

// histories 为每个用户生成 n 条交互，时间戳与位置一致（乱序输入）
func histories(t *testing.T, maxLen int, lengths map[string]int, opts ...sequence.Option) *sequence.Histories {
	t.Helper()
	var records []*core.Record
	for user, n := range lengths {
		for i := n - 1; i >= 0; i-- {
			records = append(records, &core.Record{
				Index:     len(records),
				UserID:    user,
				ItemID:    fmt.Sprintf("%s_i%d", user, i),
				Timestamp: float64(i),
			})
		}
	}
	b, err := sequence.NewBuilder(testSchema(t), maxLen, opts...)
	require.NoError(t, err)
	hs, err := b.Build(records)
	require.NoError(t, err)
	return hs
}

func TestSizes_FloorWithRemainderToTest(t *testing.T) {
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	tests := []struct {
		total int
		want  [3]int
	}{
		{0, [3]int{0, 0, 0}},
		{1, [3]int{0, 0, 1}},
		{2, [3]int{1, 0, 1}},
		{5, [3]int{4, 0, 1}},
		{10, [3]int{8, 1, 1}},
		{19, [3]int{15, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.total), func(t *testing.T) {
			got := s.Sizes(tt.total)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, got[0]+got[1]+got[2])
		})
	}
}

func TestSplit_FiveInteractionScenario(t *testing.T) {
	hs := histories(t, 3, map[string]int{"u1": 5})
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	res, err := s.Split(hs)
	require.NoError(t, err)

	require.Len(t, res.Train, 4)
	assert.Empty(t, res.Valid)
	require.Len(t, res.Test, 1)

	var lengths []int
	for _, w := range res.Train {
		lengths = append(lengths, w.Length)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, lengths)
	assert.Equal(t, 5, res.Test[0].Position)
	assert.Equal(t, 3, res.Test[0].Length)

	assert.Equal(t, []Assignment{{
		UserID: "u1", Total: 5,
		Train: Range{0, 4}, Valid: Range{4, 4}, Test: Range{4, 5},
	}}, res.Assignments)
	assert.Equal(t, PartStats{EmptyUsers: 1}, res.Stats.Valid)
	assert.Equal(t, PartStats{NonEmptyUsers: 1, Interactions: 1, Windows: 1}, res.Stats.Test)
}

func TestSplit_NoLeakageAndSizesSum(t *testing.T) {
	lengths := map[string]int{"a": 1, "b": 2, "c": 7, "d": 10, "e": 23, "f": 3}
	hs := histories(t, 4, lengths)
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1}, WithWorkers(3))
	require.NoError(t, err)

	res, err := s.Split(hs)
	require.NoError(t, err)

	for _, a := range res.Assignments {
		assert.Equal(t, lengths[a.UserID], a.Train.Len()+a.Valid.Len()+a.Test.Len(), a.UserID)
		assert.Equal(t, a.Train.Hi, a.Valid.Lo)
		assert.Equal(t, a.Valid.Hi, a.Test.Lo)
	}

	maxTS := func(ws []*sequence.Window, user string) (float64, bool) {
		m, ok := -1.0, false
		for _, w := range ws {
			if w.UserID == user {
				m, ok = max(m, w.Target.Timestamp), true
			}
		}
		return m, ok
	}
	minTS := func(ws []*sequence.Window, user string) (float64, bool) {
		m, ok := 1e18, false
		for _, w := range ws {
			if w.UserID == user {
				m, ok = min(m, w.Target.Timestamp), true
			}
		}
		return m, ok
	}
	for user := range lengths {
		trainMax, hasTrain := maxTS(res.Train, user)
		validMin, hasValid := minTS(res.Valid, user)
		validMax, _ := maxTS(res.Valid, user)
		testMin, hasTest := minTS(res.Test, user)
		if hasTrain && hasValid {
			assert.LessOrEqual(t, trainMax, validMin, user)
		}
		if hasValid && hasTest {
			assert.LessOrEqual(t, validMax, testMin, user)
		}
		if hasTrain && hasTest {
			assert.LessOrEqual(t, trainMax, testMin, user)
		}
	}

	total := 0
	for _, n := range lengths {
		total += n
	}
	assert.Equal(t, total, len(res.Train)+len(res.Valid)+len(res.Test))
	assert.Equal(t, total, res.Stats.Train.Interactions+res.Stats.Valid.Interactions+res.Stats.Test.Interactions)
}

func TestSplit_Idempotent(t *testing.T) {
	lengths := map[string]int{"a": 4, "b": 9, "c": 12, "d": 1}
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1}, WithWorkers(4))
	require.NoError(t, err)

	r1, err := s.Split(histories(t, 3, lengths))
	require.NoError(t, err)
	r2, err := s.Split(histories(t, 3, lengths, sequence.WithWorkers(1)))
	require.NoError(t, err)

	assert.Equal(t, r1.Assignments, r2.Assignments)
	assert.Equal(t, r1.Stats, r2.Stats)
	require.Equal(t, len(r1.Train), len(r2.Train))
	for i := range r1.Train {
		assert.Equal(t, r1.Train[i].UserID, r2.Train[i].UserID)
		assert.Equal(t, r1.Train[i].ItemIDs, r2.Train[i].ItemIDs)
	}
}

func TestAssign_MinSplitSize(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		policy ShortHistoryPolicy
		want   Assignment
		errFn  func(error) bool
	}{
		{
			name:  "borrows from train",
			total: 5, policy: ShortContract,
			want: Assignment{UserID: "u", Total: 5, Train: Range{0, 3}, Valid: Range{3, 4}, Test: Range{4, 5}},
		},
		{
			name:  "contracts empty valid",
			total: 2, policy: ShortContract,
			want: Assignment{UserID: "u", Total: 2, Train: Range{0, 1}, Valid: Range{1, 1}, Test: Range{1, 2}, Contracted: true},
		},
		{
			name:  "excludes short user",
			total: 2, policy: ShortExclude,
			want: Assignment{UserID: "u", Total: 2, Excluded: true},
		},
		{
			name:  "fails on short user",
			total: 2, policy: ShortFail,
			errFn: core.IsInsufficientHistory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter([]float64{0.8, 0.1, 0.1}, WithMinSplitSize(1), WithShortHistory(tt.policy))
			require.NoError(t, err)
			got, err := s.Assign("u", tt.total)
			if tt.errFn != nil {
				require.Error(t, err)
				assert.True(t, tt.errFn(err))
				assert.False(t, core.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssign_ContractMergesShortSplits(t *testing.T) {
	s, err := NewSplitter([]float64{0.5, 0, 0.5}, WithMinSplitSize(2))
	require.NoError(t, err)

	// 3 条：1 / 0 / 2，train 不足，并入 test
	a, err := s.Assign("u", 3)
	require.NoError(t, err)
	assert.True(t, a.Contracted)
	assert.Equal(t, 0, a.Train.Len())
	assert.Equal(t, 3, a.Test.Len())

	// 1 条：无法得到任何 >= 2 的划分
	a, err = s.Assign("u", 1)
	require.NoError(t, err)
	assert.True(t, a.Excluded)
}

func TestSplit_ExcludedUsersCounted(t *testing.T) {
	hs := histories(t, 3, map[string]int{"a": 1, "b": 10})
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1}, WithMinSplitSize(1), WithShortHistory(ShortExclude))
	require.NoError(t, err)

	res, err := s.Split(hs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Users)
	assert.Equal(t, 1, res.Stats.Excluded)
	for _, w := range append(append(res.Train, res.Valid...), res.Test...) {
		assert.Equal(t, "b", w.UserID)
	}

	s, err = NewSplitter([]float64{0.8, 0.1, 0.1}, WithMinSplitSize(1), WithShortHistory(ShortFail))
	require.NoError(t, err)
	_, err = s.Split(hs)
	assert.True(t, core.IsInsufficientHistory(err))
}

func TestSplit_FirstSkipWindowsCounted(t *testing.T) {
	hs := histories(t, 3, map[string]int{"u": 5}, sequence.WithFirstPosition(sequence.FirstSkip))
	s, err := NewSplitter([]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	res, err := s.Split(hs)
	require.NoError(t, err)
	assert.Len(t, res.Train, 3)
	assert.Equal(t, 4, res.Stats.Train.Interactions)
	assert.Equal(t, 3, res.Stats.Train.Windows)
}

func TestNewSplitter_Errors(t *testing.T) {
	for _, ratios := range [][]float64{{1}, {0.5, -0.1, 0.6}, {0, 0, 0}} {
		_, err := NewSplitter(ratios)
		assert.Error(t, err, "%v", ratios)
	}
	s, err := NewSplitter([]float64{8, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, s.Ratios()[Train], 1e-12)

	s, err = NewSplitter([]float64{0.9, 0.1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{9, 0, 1}, s.Sizes(10))
}

func TestGroundTruth(t *testing.T) {
	ws := []*sequence.Window{
		{UserID: "u1", Target: sequence.Target{ItemID: 3}},
		{UserID: "u1", Target: sequence.Target{ItemID: 1}},
		{UserID: "u1", Target: sequence.Target{ItemID: 3}},
		{UserID: "u2", Target: sequence.Target{ItemID: 2}},
	}
	assert.Equal(t, map[string][]int{"u1": {3, 1}, "u2": {2}}, GroundTruth(ws))
}
