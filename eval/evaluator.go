package eval

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/workers"
)

// RankedList 是一个用户的候选物品 ID，按模型得分降序排列
type RankedList struct {
	UserID string `json:"user_id"`
	Items  []int  `json:"items"`
}

// ScoredList 是一个用户的候选物品及其得分，由 Rank 转为 RankedList
type ScoredList struct {
	UserID string    `json:"user_id"`
	Items  []int     `json:"items"`
	Scores []float64 `json:"scores"`
	// Exclude 排序前剔除的物品（通常是用户训练历史）
	Exclude []int `json:"exclude,omitempty"`
}

// Evaluator 按配置的指标与 k 计算报告。Evaluator 本身不做模型选择。
type Evaluator struct {
	keys    []Key
	maxK    int
	workers int
	logger  zerolog.Logger
}

// Option 配置 Evaluator
type Option func(*Evaluator)

// WithWorkers 设置并发数
func WithWorkers(n int) Option {
	return func(e *Evaluator) { e.workers = n }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator 创建 Evaluator，metrics 对应配置项 metrics，ks 对应 topk
func NewEvaluator(metrics []string, ks []int, opts ...Option) (*Evaluator, error) {
	if len(metrics) == 0 || len(ks) == 0 {
		return nil, core.NewInvalidInputError(core.ModuleEval, "metrics and topk must not be empty")
	}
	parsed := make([]Metric, 0, len(metrics))
	for _, s := range metrics {
		m, err := ParseMetric(s)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(parsed, m) {
			parsed = append(parsed, m)
		}
	}
	cutoffs := slices.Clone(ks)
	slices.Sort(cutoffs)
	cutoffs = slices.Compact(cutoffs)
	if cutoffs[0] <= 0 {
		return nil, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("topk must be positive, got %v", ks))
	}

	e := &Evaluator{logger: zerolog.Nop(), maxK: cutoffs[len(cutoffs)-1]}
	for _, m := range parsed {
		for _, k := range cutoffs {
			e.keys = append(e.keys, Key{Metric: m, K: k})
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Keys 返回报告中的全部键
func (e *Evaluator) Keys() []Key { return slices.Clone(e.keys) }

// MaxK 返回最大截断
func (e *Evaluator) MaxK() int { return e.maxK }

// Evaluate 计算报告。truth 为每个用户的真实物品；
// truth 为空的用户不计入平均，truth 非空但没有排序列表的用户按全部未命中计入。
func (e *Evaluator) Evaluate(lists []RankedList, truth map[string][]int) (*Report, error) {
	start := time.Now()

	byUser := make(map[string][]int, len(lists))
	for _, l := range lists {
		if _, dup := byUser[l.UserID]; dup {
			return nil, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("duplicate ranked list for user %q", l.UserID))
		}
		byUser[l.UserID] = l.Items
	}

	users := make([]string, 0, len(truth))
	skipped := 0
	for u, items := range truth {
		if len(items) == 0 {
			skipped++
			continue
		}
		users = append(users, u)
	}
	sort.Strings(users)
	for u := range byUser {
		if _, ok := truth[u]; !ok {
			skipped++
		}
	}

	// 每个用户的指标写入独立槽位，最后按用户顺序求和，结果与并发数无关
	scores := make([]float64, len(users)*len(e.keys))
	missing := make([]bool, len(users))
	err := workers.ForEachChunk(len(users), e.workers, func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			u := users[i]
			items, ok := byUser[u]
			missing[i] = !ok
			userMetrics(dedupe(items, nil), toSet(truth[u]), e.keys, scores[i*len(e.keys):(i+1)*len(e.keys)])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	acc := NewAccumulator(e.keys)
	for i := range users {
		acc.add(scores[i*len(e.keys) : (i+1)*len(e.keys)])
		if missing[i] {
			acc.missing++
		}
	}
	acc.skipped = skipped
	r := acc.Report()

	if r.MissingLists > 0 {
		e.logger.Warn().Int("users", r.MissingLists).Msg("eval: users with ground truth but no ranked list scored as misses")
	}
	e.logger.Info().
		Int("users", r.Users).
		Int("skipped_users", r.SkippedUsers).
		Dur("took", time.Since(start)).
		Msg("eval: done")
	return r, nil
}

// EvaluateScores 先用 Rank 对每个用户的候选排序并截断到最大 k，再计算报告
func (e *Evaluator) EvaluateScores(scored []ScoredList, truth map[string][]int) (*Report, error) {
	lists := make([]RankedList, 0, len(scored))
	for _, s := range scored {
		ranked, err := Rank(s.Items, s.Scores, toSet(s.Exclude))
		if err != nil {
			return nil, fmt.Errorf("rank user %s: %w", s.UserID, err)
		}
		lists = append(lists, RankedList{UserID: s.UserID, Items: ranked[:min(len(ranked), e.maxK)]})
	}
	return e.Evaluate(lists, truth)
}

// Accumulator 累加各用户指标（求和 + 计数），可跨批次合并
type Accumulator struct {
	keys    []Key
	sums    []float64
	users   int
	skipped int
	missing int
}

// NewAccumulator 创建累加器
func NewAccumulator(keys []Key) *Accumulator {
	return &Accumulator{keys: slices.Clone(keys), sums: make([]float64, len(keys))}
}

func (a *Accumulator) add(values []float64) {
	for i, v := range values {
		a.sums[i] += v
	}
	a.users++
}

// AddReport 把另一份报告按用户数加权并入
func (a *Accumulator) AddReport(r *Report) error {
	for i, k := range a.keys {
		v, ok := r.Get(k)
		if !ok {
			return core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("report has no %s", k))
		}
		a.sums[i] += v * float64(r.Users)
	}
	a.users += r.Users
	a.skipped += r.SkippedUsers
	a.missing += r.MissingLists
	return nil
}

// Merge 合并另一个累加器，两者的键必须一致
func (a *Accumulator) Merge(o *Accumulator) error {
	if !slices.Equal(a.keys, o.keys) {
		return core.NewInvalidInputError(core.ModuleEval, "cannot merge accumulators with different metric keys")
	}
	for i, v := range o.sums {
		a.sums[i] += v
	}
	a.users += o.users
	a.skipped += o.skipped
	a.missing += o.missing
	return nil
}

// Report 输出平均后的报告
func (a *Accumulator) Report() *Report {
	r := &Report{
		Values:       make(map[string]float64, len(a.keys)),
		Users:        a.users,
		SkippedUsers: a.skipped,
		MissingLists: a.missing,
		keys:         slices.Clone(a.keys),
	}
	for i, k := range a.keys {
		if a.users == 0 {
			r.Values[k.String()] = 0
			continue
		}
		r.Values[k.String()] = a.sums[i] / float64(a.users)
	}
	return r
}

// Report 是一次评估的指标报告，键为 "metric@k"
type Report struct {
	Values map[string]float64 `json:"metrics"`
	// Users 参与平均的用户数
	Users int `json:"users"`
	// SkippedUsers 没有真实物品、不计入平均的用户数
	SkippedUsers int `json:"skipped_users"`
	// MissingLists 有真实物品但没有排序列表的用户数（按未命中计入）
	MissingLists int `json:"missing_lists"`

	keys []Key
}

// Get 返回指定键的值
func (r *Report) Get(k Key) (float64, bool) {
	v, ok := r.Values[k.String()]
	return v, ok
}

// Keys 返回报告中的键（指标顺序、k 升序）
func (r *Report) Keys() []Key {
	if r.keys != nil {
		return slices.Clone(r.keys)
	}
	var keys []Key
	for _, s := range slices.Sorted(maps.Keys(r.Values)) {
		if k, err := ParseKey(s); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

func toSet(ids []int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
