package feature

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
)

// MissPolicy 决定特征表中缺少实体时的处理方式，整个运行期间保持一致
type MissPolicy int

const (
	// MissDrop 丢弃该交互并计数
	MissDrop MissPolicy = iota
	// MissDefault 以 default_token / 零向量补齐
	MissDefault
	// MissFatal 返回 MissingEntityError 终止运行
	MissFatal
)

// ParseMissPolicy 解析配置中的 join_miss
func ParseMissPolicy(s string) (MissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return MissDrop, nil
	case "default":
		return MissDefault, nil
	case "fatal":
		return MissFatal, nil
	default:
		return MissDrop, fmt.Errorf("unknown join_miss policy %q (want drop, default or fatal)", s)
	}
}

func (p MissPolicy) String() string {
	switch p {
	case MissDefault:
		return "default"
	case MissFatal:
		return "fatal"
	default:
		return "drop"
	}
}

// DefaultToken 是 MissDefault 下 token 字段的默认取值
const DefaultToken = "[UNK]"

// JoinStats 记录一次拼接的计数
type JoinStats struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	DroppedUser   int `json:"dropped_user"`
	DroppedItem   int `json:"dropped_item"`
	DefaultedUser int `json:"defaulted_user"`
	DefaultedItem int `json:"defaulted_item"`
	// DefaultedFields 输出记录中，实体存在但缺少 token 字段、以默认值（default_token 或空列表）补齐的次数
	DefaultedFields int `json:"defaulted_fields"`
}

// Dropped 返回被丢弃的交互数
func (s JoinStats) Dropped() int { return s.DroppedUser + s.DroppedItem }

// Joiner 将用户级、物品级特征拼接到交互上
type Joiner struct {
	schema       *schema.Schema
	users        *Table
	items        *Table
	policy       MissPolicy
	defaultToken string
	logger       zerolog.Logger

	interFields []*schema.Field
	userFields  []*schema.Field
	itemFields  []*schema.Field
}

// Option 配置 Joiner
type Option func(*Joiner)

// WithMissPolicy 设置缺失实体策略
func WithMissPolicy(p MissPolicy) Option {
	return func(j *Joiner) { j.policy = p }
}

// WithDefaultToken 设置 MissDefault 下的默认 token
func WithDefaultToken(tok string) Option {
	return func(j *Joiner) {
		if tok != "" {
			j.defaultToken = tok
		}
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(j *Joiner) { j.logger = l }
}

// NewJoiner 创建 Joiner。users / items 可以为 nil（对应来源没有特征字段时）。
func NewJoiner(s *schema.Schema, users, items *Table, opts ...Option) *Joiner {
	j := &Joiner{
		schema:       s,
		users:        users,
		items:        items,
		policy:       MissDrop,
		defaultToken: DefaultToken,
		logger:       zerolog.Nop(),
		interFields:  s.FeatureFields(schema.SourceInteraction),
		userFields:   s.FeatureFields(schema.SourceUser),
		itemFields:   s.FeatureFields(schema.SourceItem),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Policy 返回缺失实体策略
func (j *Joiner) Policy() MissPolicy { return j.policy }

// Join 为每条交互解析全部特征槽位，输出顺序与输入一致（被丢弃的交互除外）。
//
// 任意向量长度与声明不一致时返回 DimensionMismatchError 且不输出任何记录；
// MissFatal 下缺失实体返回 MissingEntityError，同样不输出记录。
func (j *Joiner) Join(interactions []core.Interaction) ([]*core.Record, JoinStats, error) {
	stats := JoinStats{Input: len(interactions)}
	checkedUsers := make(map[string]struct{})
	checkedItems := make(map[string]struct{})

	nFeatures := len(j.interFields) + len(j.userFields) + len(j.itemFields)
	out := make([]*core.Record, 0, len(interactions))
	for i := range interactions {
		it := &interactions[i]
		features := make(map[string]core.Value, nFeatures)
		fieldDefaults := 0

		for _, f := range j.interFields {
			v, ok := it.Fields[f.Name]
			if !ok {
				v = f.Zero(j.defaultToken)
			}
			if err := f.Check(v, it.ItemID); err != nil {
				return nil, stats, err
			}
			features[f.Name] = v
		}

		keep, err := j.attach(features, j.users, j.userFields, it.UserID, checkedUsers, &stats.DroppedUser, &stats.DefaultedUser, &fieldDefaults, it)
		if err != nil {
			return nil, stats, err
		}
		if !keep {
			continue
		}
		keep, err = j.attach(features, j.items, j.itemFields, it.ItemID, checkedItems, &stats.DroppedItem, &stats.DefaultedItem, &fieldDefaults, it)
		if err != nil {
			return nil, stats, err
		}
		if !keep {
			continue
		}

		stats.DefaultedFields += fieldDefaults
		out = append(out, &core.Record{
			Index:     i,
			UserID:    it.UserID,
			ItemID:    it.ItemID,
			Timestamp: it.Timestamp,
			Rating:    it.Rating,
			Features:  features,
		})
	}
	stats.Output = len(out)
	if stats.Dropped() > 0 {
		j.logger.Warn().
			Int("dropped_user", stats.DroppedUser).
			Int("dropped_item", stats.DroppedItem).
			Msg("join: records dropped for missing entities")
	}
	return out, stats, nil
}

// attach 从特征表拼接一个实体的字段，返回该交互是否保留
func (j *Joiner) attach(
	features map[string]core.Value,
	table *Table,
	fields []*schema.Field,
	id string,
	checked map[string]struct{},
	dropped, defaulted, fieldDefaults *int,
	it *core.Interaction,
) (bool, error) {
	if len(fields) == 0 {
		return true, nil
	}

	row, found := table.Lookup(id)
	if !found {
		tableName := tableNameOf(table, fields)
		switch j.policy {
		case MissFatal:
			return false, core.NewMissingEntityError(tableName, id)
		case MissDrop:
			*dropped++
			j.logger.Warn().
				Str("user_id", it.UserID).
				Str("item_id", it.ItemID).
				Str("table", tableName).
				Msg("join: entity missing, record dropped")
			return false, nil
		default:
			*defaulted++
			for _, f := range fields {
				features[f.Name] = f.Zero(j.defaultToken)
			}
			return true, nil
		}
	}

	_, seen := checked[id]
	for _, f := range fields {
		v, ok := row[f.Name]
		if !ok && f.Type == schema.TypeToken {
			v = f.Zero(j.defaultToken)
			*fieldDefaults++
			if !seen {
				j.logger.Warn().
					Str("entity", id).
					Str("field", f.Name).
					Msg("join: token field missing from entity row, default used")
			}
		}
		if !seen {
			if err := f.Check(v, id); err != nil {
				return false, err
			}
		}
		features[f.Name] = v
	}
	checked[id] = struct{}{}
	return true, nil
}

func tableNameOf(t *Table, fields []*schema.Field) string {
	if t != nil && t.Name() != "" {
		return t.Name()
	}
	return string(fields[0].Source)
}
