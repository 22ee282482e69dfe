package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/pkg/dsl"
	"github.com/rushteam/seqkit/sampler"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

// ModulePipeline 是流水线错误使用的模块名
const ModulePipeline = "pipeline"

// FilterStage 用 CEL 表达式过滤交互
type FilterStage struct {
	Filter *dsl.Filter
	Logger zerolog.Logger
}

func (s *FilterStage) Name() string { return "filter.cel" }
func (s *FilterStage) Kind() Kind   { return KindFilter }

func (s *FilterStage) Process(_ context.Context, st *State) error {
	stats := FilterStats{Expr: s.Filter.String(), Input: len(st.Interactions)}
	kept := st.Interactions[:0:0]
	for i := range st.Interactions {
		ok, err := s.Filter.Match(st.Interactions[i])
		if err != nil {
			return core.NewInvalidInputError(ModulePipeline, fmt.Sprintf("filter %q on user %s item %s: %v",
				s.Filter.String(), st.Interactions[i].UserID, st.Interactions[i].ItemID, err))
		}
		if ok {
			kept = append(kept, st.Interactions[i])
		}
	}
	stats.Kept = len(kept)
	stats.Removed = stats.Input - stats.Kept
	st.Interactions = kept
	st.Report.Filter = stats
	if stats.Removed > 0 {
		s.Logger.Info().Int("removed", stats.Removed).Str("expr", stats.Expr).Msg("filter: interactions removed")
	}
	return nil
}

// JoinStage 拼接用户 / 物品特征
type JoinStage struct {
	Joiner *feature.Joiner
}

func (s *JoinStage) Name() string { return "feature.join" }
func (s *JoinStage) Kind() Kind   { return KindJoin }

func (s *JoinStage) Process(_ context.Context, st *State) error {
	records, stats, err := s.Joiner.Join(st.Interactions)
	st.Report.Join = stats
	if err != nil {
		return err
	}
	st.Records = records
	return nil
}

// BuildStage 构建用户历史
type BuildStage struct {
	Builder *sequence.Builder
}

func (s *BuildStage) Name() string { return "sequence.build" }
func (s *BuildStage) Kind() Kind   { return KindBuild }

func (s *BuildStage) Process(_ context.Context, st *State) error {
	hs, err := s.Builder.Build(st.Records)
	if err != nil {
		return err
	}
	st.Histories = hs
	st.Report.Build = hs.Stats
	st.Report.Users = hs.Len()
	st.Report.Items = hs.Items.Len()
	return nil
}

// SplitStage 切分窗口
type SplitStage struct {
	Splitter *split.Splitter
}

func (s *SplitStage) Name() string { return "split.temporal" }
func (s *SplitStage) Kind() Kind   { return KindSplit }

func (s *SplitStage) Process(_ context.Context, st *State) error {
	res, err := s.Splitter.Split(st.Histories)
	if err != nil {
		return err
	}
	st.Split = res
	st.Report.Split = res.Stats
	return nil
}

// SamplerFactory 在物品词表确定后构建采样器，universe 为物品数
type SamplerFactory func(universe int) (sampler.Sampler, error)

// DisabledSampler 返回关闭状态的采样器
func DisabledSampler() SamplerFactory {
	return func(int) (sampler.Sampler, error) { return sampler.Disabled{}, nil }
}

// UniformSampler 返回均匀采样器的工厂
func UniformSampler(k int, opts ...sampler.UniformOption) SamplerFactory {
	return func(universe int) (sampler.Sampler, error) {
		return sampler.NewUniform(k, universe, opts...)
	}
}

// SampleStage 为训练窗口抽取负样本；valid / test 窗口用于全量排序评估，不采样
type SampleStage struct {
	Factory SamplerFactory
	Workers int
	Logger  zerolog.Logger
}

func (s *SampleStage) Name() string { return "sampler.negative" }
func (s *SampleStage) Kind() Kind   { return KindSample }

func (s *SampleStage) Process(_ context.Context, st *State) error {
	smp, err := s.Factory(st.Histories.Items.Len())
	if err != nil {
		return err
	}
	kept, stats, err := sampler.Annotate(st.Histories, st.Split.Train, smp,
		sampler.WithWorkers(s.Workers), sampler.WithLogger(s.Logger))
	if err != nil {
		return err
	}
	st.Split.Train = kept
	st.Report.Sampler = stats
	return nil
}

var (
	_ Stage = (*FilterStage)(nil)
	_ Stage = (*JoinStage)(nil)
	_ Stage = (*BuildStage)(nil)
	_ Stage = (*SplitStage)(nil)
	_ Stage = (*SampleStage)(nil)
)
