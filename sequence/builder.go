// Package sequence 按用户分组交互、按时间排序，并生成定长（截断 / 左填充）的历史窗口。
//
// 分组使用一个连续的记录数组（arena）加 用户 -> 区间 的二级索引：
// 一次遍历统计每个用户的记录数与归属，按区间散列到 arena 后，在各自区间内原地稳定排序。
package sequence

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/workers"
	"github.com/rushteam/seqkit/schema"
)

// FirstPositionPolicy 决定用户第一条交互（空窗口）是否生成样本
type FirstPositionPolicy int

const (
	// FirstInclude 生成全部为 PAD 的窗口，length = 0
	FirstInclude FirstPositionPolicy = iota
	// FirstSkip 跳过第一条交互
	FirstSkip
)

// ParseFirstPositionPolicy 解析配置中的 first_position
func ParseFirstPositionPolicy(s string) (FirstPositionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "include":
		return FirstInclude, nil
	case "skip":
		return FirstSkip, nil
	default:
		return FirstInclude, fmt.Errorf("unknown first_position policy %q (want include or skip)", s)
	}
}

func (p FirstPositionPolicy) String() string {
	if p == FirstSkip {
		return "skip"
	}
	return "include"
}

// History 是一个用户按时间升序排列的交互记录，指向 arena 的只读视图
type History struct {
	UserID  string
	Records []*core.Record
}

// Len 返回交互数
func (h *History) Len() int { return len(h.Records) }

// BuildStats 记录分组计数
type BuildStats struct {
	Records         int `json:"records"`
	Users           int `json:"users"`
	ExcludedUsers   int `json:"excluded_users"`
	ExcludedRecords int `json:"excluded_records"`
}

type span struct{ lo, hi int }

// Histories 是全部用户历史的集合，构建后只读。用户按 ID 字典序排列。
type Histories struct {
	maxLen int
	first  FirstPositionPolicy

	arena []*core.Record
	users []string
	spans []span
	index map[string]int

	// Items 物品词表：物品 ID 从 1 开始，0 为 PAD
	Items *Vocab
	// Tokens 逐位置 token 字段（物品级、交互级）的词表
	Tokens map[string]*Vocab

	seqFields  []*schema.Field
	userFields []*schema.Field

	Stats BuildStats
}

// MaxLen 返回窗口长度
func (hs *Histories) MaxLen() int { return hs.maxLen }

// FirstPosition 返回首位置策略
func (hs *Histories) FirstPosition() FirstPositionPolicy { return hs.first }

// Len 返回用户数
func (hs *Histories) Len() int { return len(hs.users) }

// Users 返回排序后的用户 ID
func (hs *Histories) Users() []string { return slices.Clone(hs.users) }

// At 返回第 i 个用户（按 ID 排序）的历史
func (hs *Histories) At(i int) *History {
	s := hs.spans[i]
	return &History{UserID: hs.users[i], Records: hs.arena[s.lo:s.hi:s.hi]}
}

// History 按用户 ID 查找历史
func (hs *Histories) History(userID string) (*History, bool) {
	i, ok := hs.index[userID]
	if !ok {
		return nil, false
	}
	return hs.At(i), true
}

// All 按用户 ID 顺序遍历全部历史
func (hs *Histories) All() iter.Seq[*History] {
	return func(yield func(*History) bool) {
		for i := range hs.users {
			if !yield(hs.At(i)) {
				return
			}
		}
	}
}

// Interactions 返回全部用户的交互总数
func (hs *Histories) Interactions() int { return len(hs.arena) }

// SequenceFields 返回逐位置输出的特征字段（物品级、交互级，按名称排序）
func (hs *Histories) SequenceFields() []*schema.Field { return hs.seqFields }

// Builder 构建 Histories
type Builder struct {
	schema       *schema.Schema
	maxLen       int
	first        FirstPositionPolicy
	minUserInter int
	workers      int
	logger       zerolog.Logger
}

// Option 配置 Builder
type Option func(*Builder)

// WithFirstPosition 设置首位置策略
func WithFirstPosition(p FirstPositionPolicy) Option {
	return func(b *Builder) { b.first = p }
}

// WithMinUserInteractions 交互数少于 n 的用户在分组时被排除并计数
func WithMinUserInteractions(n int) Option {
	return func(b *Builder) { b.minUserInter = n }
}

// WithWorkers 设置用户分区的并发数，<= 0 使用 GOMAXPROCS
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder 创建 Builder，maxLen 对应 MAX_ITEM_LIST_LENGTH
func NewBuilder(s *schema.Schema, maxLen int, opts ...Option) (*Builder, error) {
	if maxLen <= 0 {
		return nil, core.NewInvalidInputError(core.ModuleSequence, fmt.Sprintf("MAX_ITEM_LIST_LENGTH must be positive, got %d", maxLen))
	}
	b := &Builder{
		schema: s,
		maxLen: maxLen,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build 按用户分组并在组内按时间升序稳定排序（时间相同按输入顺序）。
func (b *Builder) Build(records []*core.Record) (*Histories, error) {
	start := time.Now()

	// 一次遍历：为每个用户分配槽位并计数
	slotOf := make([]int, len(records))
	slots := make(map[string]int)
	var names []string
	var counts []int
	for i, r := range records {
		s, ok := slots[r.UserID]
		if !ok {
			s = len(names)
			slots[r.UserID] = s
			names = append(names, r.UserID)
			counts = append(counts, 0)
		}
		slotOf[i] = s
		counts[s]++
	}

	stats := BuildStats{}
	kept := make([]int, 0, len(names))
	for s, n := range counts {
		if n < b.minUserInter {
			stats.ExcludedUsers++
			stats.ExcludedRecords += n
			continue
		}
		kept = append(kept, s)
	}
	slices.SortFunc(kept, func(a, c int) int { return cmp.Compare(names[a], names[c]) })

	hs := &Histories{
		maxLen: b.maxLen,
		first:  b.first,
		users:  make([]string, len(kept)),
		spans:  make([]span, len(kept)),
		index:  make(map[string]int, len(kept)),
	}
	cursor := make([]int, len(names))
	for i := range cursor {
		cursor[i] = -1
	}
	offset := 0
	for i, s := range kept {
		hs.users[i] = names[s]
		hs.index[names[s]] = i
		hs.spans[i] = span{lo: offset, hi: offset + counts[s]}
		cursor[s] = offset
		offset += counts[s]
	}

	hs.arena = make([]*core.Record, offset)
	for i, r := range records {
		s := slotOf[i]
		if cursor[s] < 0 {
			continue
		}
		hs.arena[cursor[s]] = r
		cursor[s]++
	}

	err := workers.ForEachChunk(len(hs.spans), b.workers, func(_, lo, hi int) error {
		for _, sp := range hs.spans[lo:hi] {
			slices.SortStableFunc(hs.arena[sp.lo:sp.hi], compareRecords)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.buildVocabs(hs)

	stats.Records = len(hs.arena)
	stats.Users = len(hs.users)
	hs.Stats = stats

	if stats.ExcludedUsers > 0 {
		b.logger.Warn().
			Int("excluded_users", stats.ExcludedUsers).
			Int("excluded_records", stats.ExcludedRecords).
			Int("min_user_inter", b.minUserInter).
			Msg("sequence: users below min_user_inter excluded")
	}
	b.logger.Info().
		Int("users", stats.Users).
		Int("records", stats.Records).
		Int("items", hs.Items.Len()).
		Dur("took", time.Since(start)).
		Msg("sequence: histories built")
	return hs, nil
}

func compareRecords(a, c *core.Record) int {
	if n := cmp.Compare(a.Timestamp, c.Timestamp); n != 0 {
		return n
	}
	return cmp.Compare(a.Index, c.Index)
}

func (b *Builder) buildVocabs(hs *Histories) {
	for _, src := range []schema.Source{schema.SourceInteraction, schema.SourceItem} {
		hs.seqFields = append(hs.seqFields, b.schema.FeatureFields(src)...)
	}
	slices.SortFunc(hs.seqFields, func(a, c *schema.Field) int { return cmp.Compare(a.Name, c.Name) })
	hs.userFields = b.schema.FeatureFields(schema.SourceUser)

	items := make([]string, 0, len(hs.arena))
	tokens := make(map[string][]string)
	for _, r := range hs.arena {
		items = append(items, r.ItemID)
		for _, f := range hs.seqFields {
			if f.Type != schema.TypeToken {
				continue
			}
			if v, ok := r.Features[f.Name]; ok {
				tokens[f.Name] = append(tokens[f.Name], v.Tokens...)
			}
		}
	}
	hs.Items = NewVocab(items)
	hs.Tokens = make(map[string]*Vocab)
	for _, f := range hs.seqFields {
		if f.Type == schema.TypeToken {
			hs.Tokens[f.Name] = NewVocab(tokens[f.Name])
		}
	}
}
