package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/config"
	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/pkg/dsl"
	"github.com/rushteam/seqkit/sampler"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
	"github.com/rushteam/seqkit/table"
)

// Dataset 是加载后的输入：校验过的 schema、交互与特征表
type Dataset struct {
	Schema       *schema.Schema
	Interactions []core.Interaction
	Users        *feature.Table
	Items        *feature.Table
}

// Load 读取原子文件、校验 schema 并从配置的来源加载用户 / 物品特征表。
// .user / .item 文件不存在且该来源没有特征字段时跳过。
func Load(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dataset, error) {
	opts := func(src schema.Source) table.Options {
		return table.Options{
			FieldSeparator: cfg.FieldSeparator,
			SeqSeparator:   cfg.SeqSeparator,
			Columns:        cfg.LoadColumns(src),
		}
	}

	inter, err := table.Open(cfg.AtomicPath("inter"), schema.SourceInteraction, opts(schema.SourceInteraction))
	if err != nil {
		return nil, err
	}
	raw := slices.Clone(inter.Fields)

	frames := make(map[schema.Source]*table.Frame, 2)
	for _, src := range []schema.Source{schema.SourceUser, schema.SourceItem} {
		if !cfg.UsesFile(src) {
			continue
		}
		f, err := table.Open(cfg.AtomicPath(string(src)), src, opts(src))
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Str("origin", string(src)).Msg("pipeline: no atomic file, skipped")
			continue
		}
		if err != nil {
			return nil, err
		}
		frames[src] = f
		raw = append(raw, f.Fields...)
	}

	s, err := schema.Validate(raw, cfg.FeatureConfig())
	if err != nil {
		return nil, err
	}
	interactions, err := inter.Interactions(s)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Schema: s, Interactions: interactions}
	for _, src := range []schema.Source{schema.SourceUser, schema.SourceItem} {
		if len(s.FeatureFields(src)) == 0 {
			continue
		}
		idField := s.UserIDField
		if src == schema.SourceItem {
			idField = s.ItemIDField
		}
		t, err := loadTable(ctx, cfg, config.BuildEnv{
			Config:  cfg,
			Schema:  s,
			Origin:  src,
			IDField: idField,
			Frame:   frames[src],
			Logger:  logger,
		}, entityIDs(interactions, src))
		if err != nil {
			return nil, err
		}
		if src == schema.SourceUser {
			ds.Users = t
		} else {
			ds.Items = t
		}
	}

	logger.Info().
		Str("dataset", cfg.Dataset).
		Int("interactions", len(interactions)).
		Int("fields", s.Len()).
		Int("users_table", ds.Users.Len()).
		Int("items_table", ds.Items.Len()).
		Msg("pipeline: dataset loaded")
	return ds, nil
}

func loadTable(ctx context.Context, cfg *config.Config, env config.BuildEnv, ids []string) (*feature.Table, error) {
	src, err := config.BuildSource(ctx, cfg.SourceParams(env.Origin), env)
	if err != nil {
		return nil, err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	return feature.LoadTable(ctx, string(env.Origin), src, ids)
}

// entityIDs 返回交互中出现的用户或物品 ID（排序去重）
func entityIDs(interactions []core.Interaction, src schema.Source) []string {
	ids := make([]string, 0, len(interactions))
	for _, it := range interactions {
		if src == schema.SourceUser {
			ids = append(ids, it.UserID)
		} else {
			ids = append(ids, it.ItemID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Build 根据配置构建 Pipeline。所有策略在这里解析为确定的变体。
func Build(cfg *config.Config, ds *Dataset, logger zerolog.Logger) (*Pipeline, error) {
	pol, err := cfg.Policies()
	if err != nil {
		return nil, err
	}

	var stages []Stage
	if cfg.Filter != "" {
		var lists []string
		for _, f := range ds.Schema.FeatureFields(schema.SourceInteraction) {
			if f.IsList {
				lists = append(lists, f.Name)
			}
		}
		flt, err := dsl.Compile(cfg.Filter, dsl.WithListFields(lists...))
		if err != nil {
			return nil, core.NewInvalidInputError(config.ModuleConfig, fmt.Sprintf("filter: %v", err))
		}
		stages = append(stages, &FilterStage{Filter: flt, Logger: logger})
	}

	joiner := feature.NewJoiner(ds.Schema, ds.Users, ds.Items,
		feature.WithMissPolicy(pol.JoinMiss),
		feature.WithDefaultToken(pol.DefaultToken),
		feature.WithLogger(logger))
	stages = append(stages, &JoinStage{Joiner: joiner})

	builder, err := sequence.NewBuilder(ds.Schema, cfg.MaxItemListLength,
		sequence.WithFirstPosition(pol.FirstPosition),
		sequence.WithMinUserInteractions(pol.MinUserInter),
		sequence.WithWorkers(cfg.Workers),
		sequence.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	stages = append(stages, &BuildStage{Builder: builder})

	splitter, err := split.NewSplitter(cfg.EvalArgs.Split.RS,
		split.WithMinSplitSize(pol.MinSplitSize),
		split.WithShortHistory(pol.ShortHistory),
		split.WithWorkers(cfg.Workers),
		split.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	stages = append(stages, &SplitStage{Splitter: splitter})

	k, err := cfg.SamplerK()
	if err != nil {
		return nil, err
	}
	factory := DisabledSampler()
	if k > 0 {
		factory = UniformSampler(k, sampler.WithSeed(cfg.Seed), sampler.WithShortfall(pol.Shortfall))
	}
	stages = append(stages, &SampleStage{Factory: factory, Workers: cfg.Workers, Logger: logger})

	return &Pipeline{Stages: stages, Logger: logger}, nil
}

// Prepare 加载数据并执行完整流水线
func Prepare(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*State, error) {
	ds, err := Load(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p, err := Build(cfg, ds, logger)
	if err != nil {
		return nil, err
	}
	st := &State{
		Schema:       ds.Schema,
		Interactions: ds.Interactions,
		Report:       &Report{Dataset: cfg.Dataset},
	}
	if err := p.Run(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
