// Package config 加载数据集配置（YAML，沿用 RecBole 风格的键名），
// 并在启动时把各项策略解析为确定的变体。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/eval"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/pkg/logger"
	"github.com/rushteam/seqkit/sampler"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

// ModuleConfig 是配置错误使用的模块名
const ModuleConfig = "config"

// Config 是数据集与流水线配置
type Config struct {
	Dataset  string `yaml:"dataset"`
	DataPath string `yaml:"data_path"`

	UserIDField string `yaml:"USER_ID_FIELD"`
	ItemIDField string `yaml:"ITEM_ID_FIELD"`
	TimeField   string `yaml:"TIME_FIELD"`
	RatingField string `yaml:"RATING_FIELD"`

	FieldSeparator string `yaml:"field_separator"`
	SeqSeparator   string `yaml:"seq_separator"`

	// LoadCol 键为 inter / user / item
	LoadCol map[string][]string `yaml:"load_col"`

	TextFields         []string       `yaml:"TEXT_FIELDS"`
	UserFeatures       []string       `yaml:"USER_FEATURES"`
	NumericalFieldList []string       `yaml:"numerical_field_list"`
	NumericalFieldDims map[string]int `yaml:"numerical_field_dims"`
	FieldPreparation   struct {
		Inter []schema.Preparation `yaml:"inter"`
	} `yaml:"field_preparation"`

	MaxItemListLength int `yaml:"MAX_ITEM_LIST_LENGTH"`

	EvalArgs EvalArgs `yaml:"eval_args"`

	Metrics     StringList `yaml:"metrics"`
	TopK        IntList    `yaml:"topk"`
	ValidMetric string     `yaml:"valid_metric"`
	// StoppingStep 是 valid_metric 连续未提升的评估次数上限
	StoppingStep int `yaml:"stopping_step"`

	// NegSampling 为空表示关闭，否则形如 {uniform: 1}
	NegSampling map[string]int `yaml:"neg_sampling"`

	Seed    int64  `yaml:"seed"`
	Workers int    `yaml:"workers"`
	Filter  string `yaml:"filter"`

	Policy  PolicyConfig  `yaml:"policy"`
	Sources SourcesConfig `yaml:"sources"`
	Log     LogConfig     `yaml:"log"`
}

// EvalArgs 对应 eval_args
type EvalArgs struct {
	Split struct {
		RS []float64 `yaml:"RS"`
	} `yaml:"split"`
	GroupBy string `yaml:"group_by"`
	Order   string `yaml:"order"`
}

// PolicyConfig 是各类边界情况的处理策略
type PolicyConfig struct {
	JoinMiss         string `yaml:"join_miss"`
	DefaultToken     string `yaml:"default_token"`
	FirstPosition    string `yaml:"first_position"`
	ShortHistory     string `yaml:"short_history"`
	MinSplitSize     int    `yaml:"min_split_size"`
	MinUserInter     int    `yaml:"min_user_inter"`
	SamplerShortfall string `yaml:"sampler_shortfall"`
}

// SourcesConfig 指定用户 / 物品特征表的来源，每项为 {type: file|memory|redis|feast, ...}
type SourcesConfig struct {
	User map[string]any `yaml:"user"`
	Item map[string]any `yaml:"item"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StringList 接受单个字符串或字符串列表
type StringList []string

func (l *StringList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*l = StringList{n.Value}
		return nil
	}
	var out []string
	if err := n.Decode(&out); err != nil {
		return err
	}
	*l = out
	return nil
}

// IntList 接受单个整数或整数列表
type IntList []int

func (l *IntList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v int
		if err := n.Decode(&v); err != nil {
			return err
		}
		*l = IntList{v}
		return nil
	}
	var out []int
	if err := n.Decode(&out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Default 返回默认配置
func Default() *Config {
	c := &Config{
		DataPath:          ".",
		UserIDField:       "user_id",
		ItemIDField:       "item_id",
		TimeField:         "timestamp",
		FieldSeparator:    "\t",
		SeqSeparator:      " ",
		MaxItemListLength: 50,
		Metrics:           StringList{"Recall", "MRR", "NDCG", "Hit", "Precision"},
		TopK:              IntList{10},
		ValidMetric:       "MRR@10",
		StoppingStep:      10,
		Seed:              2020,
		Log:               LogConfig{Level: "info", Format: logger.FormatConsole},
	}
	c.EvalArgs.Split.RS = []float64{0.8, 0.1, 0.1}
	c.EvalArgs.GroupBy = "user"
	c.EvalArgs.Order = "TO"
	return c
}

// LoadFromYAML 从 YAML 文件加载配置
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse 在默认配置之上解析 YAML 并校验
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return core.NewInvalidInputError(ModuleConfig, fmt.Sprintf(format, args...))
}

// Validate 校验配置，策略名与指标名在这里一次性检查
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return invalid("dataset is required")
	}
	if c.MaxItemListLength <= 0 {
		return invalid("MAX_ITEM_LIST_LENGTH must be positive, got %d", c.MaxItemListLength)
	}
	if !strings.EqualFold(c.EvalArgs.GroupBy, "user") {
		return invalid("eval_args.group_by %q is not supported (want user)", c.EvalArgs.GroupBy)
	}
	if !strings.EqualFold(c.EvalArgs.Order, "TO") {
		return invalid("eval_args.order %q is not supported (want TO)", c.EvalArgs.Order)
	}
	if _, err := split.NewSplitter(c.EvalArgs.Split.RS); err != nil {
		return err
	}
	for k := range c.LoadCol {
		if _, err := loadSource(k); err != nil {
			return err
		}
	}

	ev, err := eval.NewEvaluator(c.Metrics, c.TopK)
	if err != nil {
		return err
	}
	if c.ValidMetric != "" {
		key, err := eval.ParseKey(c.ValidMetric)
		if err != nil {
			return err
		}
		found := false
		for _, k := range ev.Keys() {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			return invalid("valid_metric %s is not among the configured metrics and topk", key)
		}
	}

	if c.StoppingStep < 0 {
		return invalid("stopping_step must be >= 0, got %d", c.StoppingStep)
	}
	if _, err := c.SamplerK(); err != nil {
		return err
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	for name, params := range map[string]map[string]any{"user": c.Sources.User, "item": c.Sources.Item} {
		if params == nil {
			continue
		}
		if t := sourceType(params); !IsRegistered(t) {
			return invalid("sources.%s: unsupported type %q (supported: %v)", name, t, SupportedTypes())
		}
	}
	return nil
}

// Selector 返回跟踪 valid_metric 的选择器，连续 stopping_step 次未提升时给出停止信号
func (c *Config) Selector() (*eval.Selector, error) {
	return eval.NewSelector(c.ValidMetric, c.StoppingStep)
}

// SamplerK 返回每个窗口的负样本数，0 表示关闭负采样
func (c *Config) SamplerK() (int, error) {
	if len(c.NegSampling) == 0 {
		return 0, nil
	}
	if len(c.NegSampling) != 1 {
		return 0, invalid("neg_sampling must have exactly one entry, got %v", c.NegSampling)
	}
	k, ok := c.NegSampling["uniform"]
	if !ok {
		return 0, invalid("neg_sampling: only uniform is supported, got %v", c.NegSampling)
	}
	if k <= 0 {
		return 0, invalid("neg_sampling.uniform must be positive, got %d", k)
	}
	return k, nil
}

// Policies 是解析后的策略变体
type Policies struct {
	JoinMiss      feature.MissPolicy
	DefaultToken  string
	FirstPosition sequence.FirstPositionPolicy
	ShortHistory  split.ShortHistoryPolicy
	MinSplitSize  int
	MinUserInter  int
	Shortfall     sampler.ShortfallPolicy
}

// Policies 解析策略名，未知名称返回配置错误
func (c *Config) Policies() (Policies, error) {
	p := Policies{
		DefaultToken: c.Policy.DefaultToken,
		MinSplitSize: c.Policy.MinSplitSize,
		MinUserInter: c.Policy.MinUserInter,
	}
	if p.DefaultToken == "" {
		p.DefaultToken = feature.DefaultToken
	}
	var err error
	if p.JoinMiss, err = feature.ParseMissPolicy(c.Policy.JoinMiss); err != nil {
		return p, invalid("policy.join_miss: %v", err)
	}
	if p.FirstPosition, err = sequence.ParseFirstPositionPolicy(c.Policy.FirstPosition); err != nil {
		return p, invalid("policy.first_position: %v", err)
	}
	if p.ShortHistory, err = split.ParseShortHistoryPolicy(c.Policy.ShortHistory); err != nil {
		return p, invalid("policy.short_history: %v", err)
	}
	if p.Shortfall, err = sampler.ParseShortfallPolicy(c.Policy.SamplerShortfall); err != nil {
		return p, invalid("policy.sampler_shortfall: %v", err)
	}
	if p.MinSplitSize < 0 || p.MinUserInter < 0 {
		return p, invalid("policy.min_split_size and policy.min_user_inter must be >= 0")
	}
	return p, nil
}

// FeatureConfig 构建 schema 校验所需的特征声明
func (c *Config) FeatureConfig() schema.FeatureConfig {
	fc := schema.FeatureConfig{
		UserIDField:     c.UserIDField,
		ItemIDField:     c.ItemIDField,
		TimeField:       c.TimeField,
		RatingField:     c.RatingField,
		TextFields:      c.TextFields,
		UserFeatures:    c.UserFeatures,
		NumericalFields: c.NumericalFieldList,
		NumericalDims:   c.NumericalFieldDims,
		Preparations:    c.FieldPreparation.Inter,
	}
	if len(c.LoadCol) > 0 {
		fc.LoadColumns = make(map[schema.Source][]string, len(c.LoadCol))
		for k, cols := range c.LoadCol {
			src, _ := loadSource(k)
			fc.LoadColumns[src] = cols
		}
	}
	return fc
}

// AtomicPath 返回原子文件路径：data_path/dataset/dataset.<suffix>。
// 存在同名的 .zst 文件时优先使用压缩文件。
func (c *Config) AtomicPath(suffix string) string {
	p := filepath.Join(c.DataPath, c.Dataset, c.Dataset+"."+suffix)
	if _, err := os.Stat(p + ".zst"); err == nil {
		return p + ".zst"
	}
	return p
}

// LoadColumns 返回某个来源文件需要加载的列
func (c *Config) LoadColumns(src schema.Source) []string {
	for k, cols := range c.LoadCol {
		if s, err := loadSource(k); err == nil && s == src {
			return cols
		}
	}
	return nil
}

func loadSource(key string) (schema.Source, error) {
	switch strings.ToLower(key) {
	case "inter":
		return schema.SourceInteraction, nil
	case "user":
		return schema.SourceUser, nil
	case "item":
		return schema.SourceItem, nil
	}
	return "", invalid("load_col: unknown file %q (want inter, user or item)", key)
}
