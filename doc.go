// Package seqkit 是一个序列推荐数据准备与评估工具包。
//
// 设计要点：
// - Pipeline-first: 数据准备通过 Stage 串联（Filter → Join → Build → Split → Sample）
// - Policy-first: 缺失实体、短历史、采样不足等边界情况在启动时解析为明确的策略，被丢弃的数据全部计数
// - Deterministic: 词表、切分、负采样与指标在相同输入与配置下逐字节一致
package seqkit

import "github.com/rushteam/seqkit/pipeline"

// 轻量 facade：便于用户直接 import "seqkit" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Stage = pipeline.Stage
type State = pipeline.State
type Kind = pipeline.Kind

const (
	KindFilter = pipeline.KindFilter
	KindJoin   = pipeline.KindJoin
	KindBuild  = pipeline.KindBuild
	KindSplit  = pipeline.KindSplit
	KindSample = pipeline.KindSample
)

// Prepare 加载数据并执行完整流水线
var Prepare = pipeline.Prepare
