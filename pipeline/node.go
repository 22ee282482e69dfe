package pipeline

import (
	"context"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

// Kind 用于标记 Stage 类型，方便观测（例如按阶段打点）。
type Kind string

const (
	KindFilter Kind = "filter" // 过滤阶段：按表达式剔除交互
	KindJoin   Kind = "join"   // 拼接阶段：为交互解析用户 / 物品特征
	KindBuild  Kind = "build"  // 构建阶段：按用户分组、排序并建立词表
	KindSplit  Kind = "split"  // 切分阶段：生成 train / valid / test 窗口
	KindSample Kind = "sample" // 采样阶段：为训练窗口抽取负样本
)

// State 是阶段之间传递的数据。每个阶段读取上一阶段的产出并写入自己的产出。
type State struct {
	Schema       *schema.Schema
	Interactions []core.Interaction
	Records      []*core.Record
	Histories    *sequence.Histories
	Split        *split.Result
	Report       *Report
}

// Stage 是 Pipeline 的最小可扩展单元。
type Stage interface {
	Name() string
	Kind() Kind

	Process(ctx context.Context, st *State) error
}
