// Package split 把每个用户按时间排好序的历史切分为 train / valid / test 三段连续区间。
//
// 切分只在用户内部进行（group_by = user），区间保持时间顺序（order = TO），
// 因此每个用户的 train 目标时间戳 <= valid <= test。
package split

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/workers"
	"github.com/rushteam/seqkit/sequence"
)

const epsilon = 1e-9

// ShortHistoryPolicy 决定历史过短、无法让每个非空划分达到 min_split_size 的用户如何处理
type ShortHistoryPolicy int

const (
	// ShortContract 把不足的划分并入相邻划分（该划分长度为 0），计数
	ShortContract ShortHistoryPolicy = iota
	// ShortExclude 排除该用户，计数
	ShortExclude
	// ShortFail 返回 InsufficientHistoryError 终止运行
	ShortFail
)

// ParseShortHistoryPolicy 解析配置中的 short_history
func ParseShortHistoryPolicy(s string) (ShortHistoryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contract":
		return ShortContract, nil
	case "exclude":
		return ShortExclude, nil
	case "fail":
		return ShortFail, nil
	default:
		return ShortContract, fmt.Errorf("unknown short_history policy %q (want contract, exclude or fail)", s)
	}
}

func (p ShortHistoryPolicy) String() string {
	switch p {
	case ShortExclude:
		return "exclude"
	case ShortFail:
		return "fail"
	default:
		return "contract"
	}
}

// Part 标识一个划分
type Part int

const (
	Train Part = iota
	Valid
	Test
)

var partNames = [...]string{"train", "valid", "test"}

func (p Part) String() string { return partNames[p] }

// Range 是用户历史中的下标区间 [Lo, Hi)
type Range struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Len 返回区间长度
func (r Range) Len() int { return r.Hi - r.Lo }

// Assignment 是一个用户的切分结果，三个区间首尾相接并覆盖整个历史
type Assignment struct {
	UserID     string `json:"user_id"`
	Total      int    `json:"total"`
	Train      Range  `json:"train"`
	Valid      Range  `json:"valid"`
	Test       Range  `json:"test"`
	Contracted bool   `json:"contracted,omitempty"`
	Excluded   bool   `json:"excluded,omitempty"`
}

// Part 返回指定划分的区间
func (a Assignment) Part(p Part) Range {
	switch p {
	case Valid:
		return a.Valid
	case Test:
		return a.Test
	default:
		return a.Train
	}
}

// Splitter 按比例切分用户历史
type Splitter struct {
	ratios  [3]float64
	minSize int
	short   ShortHistoryPolicy
	workers int
	logger  zerolog.Logger
}

// Option 配置 Splitter
type Option func(*Splitter)

// WithMinSplitSize 设置每个非空划分的最小交互数（默认 0，划分可为空）
func WithMinSplitSize(m int) Option {
	return func(s *Splitter) { s.minSize = m }
}

// WithShortHistory 设置短历史策略
func WithShortHistory(p ShortHistoryPolicy) Option {
	return func(s *Splitter) { s.short = p }
}

// WithWorkers 设置用户分区的并发数
func WithWorkers(n int) Option {
	return func(s *Splitter) { s.workers = n }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(s *Splitter) { s.logger = l }
}

// NewSplitter 创建 Splitter。ratios 为 train / valid / test 比例（eval_args.split.RS），
// 也接受两项（train / test）；比例按总和归一化。
func NewSplitter(ratios []float64, opts ...Option) (*Splitter, error) {
	var r [3]float64
	switch len(ratios) {
	case 3:
		copy(r[:], ratios)
	case 2:
		r[Train], r[Test] = ratios[0], ratios[1]
	default:
		return nil, core.NewInvalidInputError(core.ModuleSplit, fmt.Sprintf("split ratios need 2 or 3 values, got %d", len(ratios)))
	}
	sum := 0.0
	for _, x := range r {
		if x < 0 || math.IsNaN(x) {
			return nil, core.NewInvalidInputError(core.ModuleSplit, fmt.Sprintf("split ratios must be non-negative, got %v", ratios))
		}
		sum += x
	}
	if sum <= 0 {
		return nil, core.NewInvalidInputError(core.ModuleSplit, "split ratios sum to zero")
	}
	for i := range r {
		r[i] /= sum
	}

	s := &Splitter{ratios: r, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.minSize < 0 {
		return nil, core.NewInvalidInputError(core.ModuleSplit, "min_split_size must be >= 0")
	}
	return s, nil
}

// Ratios 返回归一化后的比例
func (s *Splitter) Ratios() [3]float64 { return s.ratios }

// Sizes 按比例计算长度为 total 的历史的三段长度：
// train = floor(r_train*H)，valid = floor(r_valid*H)，test 取剩余。
func (s *Splitter) Sizes(total int) [3]int {
	h := float64(total)
	nTrain := int(math.Floor(s.ratios[Train]*h + epsilon))
	nValid := int(math.Floor(s.ratios[Valid]*h + epsilon))
	nTrain = min(nTrain, total)
	nValid = min(nValid, total-nTrain)
	return [3]int{nTrain, nValid, total - nTrain - nValid}
}

// Assign 计算一个用户的切分。返回的 error 仅在 ShortFail 下为 InsufficientHistoryError。
func (s *Splitter) Assign(userID string, total int) (Assignment, error) {
	sizes := s.Sizes(total)
	a := Assignment{UserID: userID, Total: total}

	if s.minSize > 0 {
		m := s.minSize
		// 配置了比例的 valid / test 先从 train 借，train 保持 >= m
		for _, p := range []Part{Valid, Test} {
			if s.ratios[p] == 0 {
				continue
			}
			for sizes[p] < m && sizes[Train] > m {
				sizes[Train]--
				sizes[p]++
			}
		}

		if short := s.shortParts(sizes); len(short) > 0 {
			switch s.short {
			case ShortFail:
				return a, core.NewInsufficientHistoryError(userID, total, s.required())
			case ShortExclude:
				a.Excluded = true
				return a, nil
			default:
				var ok bool
				sizes, ok = contract(sizes, m)
				if !ok {
					a.Excluded = true
					return a, nil
				}
				a.Contracted = true
			}
		}
	}

	a.Train = Range{0, sizes[Train]}
	a.Valid = Range{a.Train.Hi, a.Train.Hi + sizes[Valid]}
	a.Test = Range{a.Valid.Hi, total}
	return a, nil
}

// shortParts 返回长度不足 m 的划分：配置了比例却为空，或非空但不足 m
func (s *Splitter) shortParts(sizes [3]int) []Part {
	var out []Part
	for p := Train; p <= Test; p++ {
		if s.ratios[p] == 0 && sizes[p] == 0 {
			continue
		}
		if sizes[p] < s.minSize {
			out = append(out, p)
		}
	}
	return out
}

// required 返回满足所有配置了比例的划分所需的最少交互数
func (s *Splitter) required() int {
	n := 0
	for _, r := range s.ratios {
		if r > 0 {
			n += s.minSize
		}
	}
	return n
}

// contract 把不足 m 的非空划分并入相邻划分：valid / test 并入前一个非空划分，train 并入后一个。
// 无法得到任何一个 >= m 的划分时返回 false。
func contract(sizes [3]int, m int) ([3]int, bool) {
	for _, p := range []Part{Test, Valid, Train} {
		if sizes[p] == 0 || sizes[p] >= m {
			continue
		}
		target := -1
		if p != Train {
			for q := int(p) - 1; q >= 0; q-- {
				if sizes[q] > 0 {
					target = q
					break
				}
			}
		}
		if target < 0 {
			for q := int(p) + 1; q <= int(Test); q++ {
				if sizes[q] > 0 {
					target = q
					break
				}
			}
		}
		if target < 0 {
			return sizes, false
		}
		sizes[target] += sizes[p]
		sizes[p] = 0
	}
	for _, n := range sizes {
		if n > 0 && n < m {
			return sizes, false
		}
	}
	return sizes, true
}

// PartStats 是一个划分的计数
type PartStats struct {
	NonEmptyUsers int `json:"non_empty_users"`
	EmptyUsers    int `json:"empty_users"`
	Interactions  int `json:"interactions"`
	Windows       int `json:"windows"`
}

// Stats 是切分的统计
type Stats struct {
	Users      int       `json:"users"`
	Excluded   int       `json:"excluded"`
	Contracted int       `json:"contracted"`
	Train      PartStats `json:"train"`
	Valid      PartStats `json:"valid"`
	Test       PartStats `json:"test"`
}

// Part 返回指定划分的计数
func (s *Stats) Part(p Part) *PartStats {
	switch p {
	case Valid:
		return &s.Valid
	case Test:
		return &s.Test
	default:
		return &s.Train
	}
}

// Result 是切分结果。窗口按用户 ID、再按位置排列。
type Result struct {
	Train       []*sequence.Window
	Valid       []*sequence.Window
	Test        []*sequence.Window
	Assignments []Assignment
	Stats       Stats
}

// Windows 返回指定划分的窗口
func (r *Result) Windows(p Part) []*sequence.Window {
	switch p {
	case Valid:
		return r.Valid
	case Test:
		return r.Test
	default:
		return r.Train
	}
}

// Split 切分全部用户。先按用户顺序计算切分区间，再按用户分区并发生成窗口，结果按分区顺序合并。
func (s *Splitter) Split(hs *sequence.Histories) (*Result, error) {
	start := time.Now()

	res := &Result{Assignments: make([]Assignment, hs.Len())}
	for i := range res.Assignments {
		h := hs.At(i)
		a, err := s.Assign(h.UserID, h.Len())
		if err != nil {
			return nil, err
		}
		res.Assignments[i] = a
	}

	chunks := make([][3][]*sequence.Window, workers.Chunks(hs.Len(), s.workers))
	err := workers.ForEachChunk(hs.Len(), s.workers, func(c, lo, hi int) error {
		out := &chunks[c]
		for i := lo; i < hi; i++ {
			a := res.Assignments[i]
			if a.Excluded {
				continue
			}
			h := hs.At(i)
			for p := Train; p <= Test; p++ {
				r := a.Part(p)
				for w := range hs.WindowsRange(h, r.Lo, r.Hi) {
					out[p] = append(out[p], w)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		res.Train = append(res.Train, c[Train]...)
		res.Valid = append(res.Valid, c[Valid]...)
		res.Test = append(res.Test, c[Test]...)
	}
	s.collectStats(hs, res)

	s.logger.Info().
		Int("users", res.Stats.Users).
		Int("excluded", res.Stats.Excluded).
		Int("contracted", res.Stats.Contracted).
		Int("train", len(res.Train)).
		Int("valid", len(res.Valid)).
		Int("test", len(res.Test)).
		Dur("took", time.Since(start)).
		Msg("split: done")
	return res, nil
}

func (s *Splitter) collectStats(hs *sequence.Histories, res *Result) {
	st := &res.Stats
	st.Users = len(res.Assignments)
	for i, a := range res.Assignments {
		if a.Excluded {
			st.Excluded++
			s.logger.Warn().
				Str("user_id", a.UserID).
				Int("total", a.Total).
				Int("min_split_size", s.minSize).
				Msg("split: insufficient history, user excluded")
			continue
		}
		if a.Contracted {
			st.Contracted++
		}
		h := hs.At(i)
		for p := Train; p <= Test; p++ {
			r := a.Part(p)
			ps := st.Part(p)
			if r.Len() == 0 {
				ps.EmptyUsers++
				continue
			}
			ps.NonEmptyUsers++
			ps.Interactions += r.Len()
			ps.Windows += hs.CountRange(h, r.Lo, r.Hi)
		}
	}
}

// GroundTruth 从评估窗口提取每个用户的真实物品 ID（按出现顺序去重）
func GroundTruth(windows []*sequence.Window) map[string][]int {
	truth := make(map[string][]int)
	seen := make(map[string]map[int]struct{})
	for _, w := range windows {
		if seen[w.UserID] == nil {
			seen[w.UserID] = make(map[int]struct{})
		}
		if _, dup := seen[w.UserID][w.Target.ItemID]; dup {
			continue
		}
		seen[w.UserID][w.Target.ItemID] = struct{}{}
		truth[w.UserID] = append(truth[w.UserID], w.Target.ItemID)
	}
	return truth
}
