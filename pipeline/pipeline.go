// Package pipeline 把数据准备拆成可组合的 Stage 链：filter -> join -> build -> split -> sample。
//
// 各阶段是同步的批量变换，阶段之间通过 State 传递；Report 汇总每个阶段的计数与耗时，
// 任何被丢弃或排除的数据都能在报告中看到。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/sampler"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

// Pipeline 按顺序执行 Stage
type Pipeline struct {
	Stages []Stage
	Logger zerolog.Logger
}

// Run 依次执行各阶段。阶段返回错误时立即中止，不产出任何结果。
func (p *Pipeline) Run(ctx context.Context, st *State) error {
	if st.Report == nil {
		st.Report = &Report{}
	}
	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := stage.Process(ctx, st); err != nil {
			p.Logger.Error().Err(err).Str("stage", stage.Name()).Msg("pipeline: stage failed")
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		took := time.Since(start)
		st.Report.Stages = append(st.Report.Stages, StageTiming{
			Name:   stage.Name(),
			Kind:   stage.Kind(),
			TookMS: took.Milliseconds(),
		})
		p.Logger.Info().
			Str("stage", stage.Name()).
			Str("kind", string(stage.Kind())).
			Dur("took", took).
			Msg("pipeline: stage done")
	}
	return nil
}

// StageTiming 是一个阶段的耗时
type StageTiming struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	TookMS int64  `json:"took_ms"`
}

// FilterStats 是过滤阶段的计数
type FilterStats struct {
	Expr    string `json:"expr,omitempty"`
	Input   int    `json:"input"`
	Kept    int    `json:"kept"`
	Removed int    `json:"removed"`
}

// Report 是一次运行的汇总报告
type Report struct {
	Dataset string              `json:"dataset,omitempty"`
	Items   int                 `json:"items"`
	Users   int                 `json:"users"`
	Filter  FilterStats         `json:"filter"`
	Join    feature.JoinStats   `json:"join"`
	Build   sequence.BuildStats `json:"build"`
	Split   split.Stats         `json:"split"`
	Sampler sampler.Stats       `json:"sampler"`
	Stages  []StageTiming       `json:"stages"`
}
