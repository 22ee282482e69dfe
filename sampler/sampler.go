// Package sampler 为训练窗口抽取负样本物品。
//
// 采样器是启动时确定的变体：Disabled（关闭，neg_sampling: null）或 Uniform（均匀无放回）。
// 流水线只持有 Sampler 接口，不在运行时判断开关。
package sampler

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/sequence"
)

// ShortfallPolicy 决定可采样候选少于 k 时的处理方式
type ShortfallPolicy int

const (
	// ShortfallShrink 返回全部候选（少于 k 个），计数
	ShortfallShrink ShortfallPolicy = iota
	// ShortfallFail 返回 InsufficientCandidatesError，由调用方跳过该窗口并计数
	ShortfallFail
)

// ParseShortfallPolicy 解析配置中的 sampler_shortfall
func ParseShortfallPolicy(s string) (ShortfallPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shrink":
		return ShortfallShrink, nil
	case "fail":
		return ShortfallFail, nil
	default:
		return ShortfallShrink, fmt.Errorf("unknown sampler_shortfall policy %q (want shrink or fail)", s)
	}
}

func (p ShortfallPolicy) String() string {
	if p == ShortfallFail {
		return "fail"
	}
	return "shrink"
}

// Request 是一次采样请求
type Request struct {
	UserID   string
	Position int
	// Positive 目标物品 ID，总是被排除
	Positive int
	// Exclude 用户交互过的物品 ID
	Exclude map[int]struct{}
}

// Sampler 负采样器
type Sampler interface {
	Name() string
	Enabled() bool
	// K 返回每个窗口期望的负样本数
	K() int
	// Sample 返回不重复的负样本物品 ID。shrunk 表示候选不足、返回数量少于 K。
	Sample(req Request) (negatives []int, shrunk bool, err error)
}

// Disabled 是关闭状态的采样器
type Disabled struct{}

func (Disabled) Name() string  { return "none" }
func (Disabled) Enabled() bool { return false }
func (Disabled) K() int        { return 0 }

func (Disabled) Sample(Request) ([]int, bool, error) { return nil, false, nil }

// Uniform 从物品全集 [1, universe] 中排除用户交互过的物品后均匀无放回采样。
//
// 每个 (seed, user_id, position) 使用独立的随机源，结果与并发分区无关。
type Uniform struct {
	k        int
	universe int
	seed     int64
	policy   ShortfallPolicy
}

// UniformOption 配置 Uniform
type UniformOption func(*Uniform)

// WithSeed 设置随机种子
func WithSeed(seed int64) UniformOption {
	return func(u *Uniform) { u.seed = seed }
}

// WithShortfall 设置候选不足策略
func WithShortfall(p ShortfallPolicy) UniformOption {
	return func(u *Uniform) { u.policy = p }
}

// NewUniform 创建均匀采样器。universe 为物品词表大小（物品 ID 为 1..universe，0 为 PAD）。
func NewUniform(k, universe int, opts ...UniformOption) (*Uniform, error) {
	if k <= 0 {
		return nil, core.NewInvalidInputError(core.ModuleSampler, fmt.Sprintf("negative count must be positive, got %d", k))
	}
	if universe < 0 {
		return nil, core.NewInvalidInputError(core.ModuleSampler, fmt.Sprintf("item universe must be >= 0, got %d", universe))
	}
	u := &Uniform{k: k, universe: universe}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

func (u *Uniform) Name() string  { return "uniform" }
func (u *Uniform) Enabled() bool { return true }
func (u *Uniform) K() int        { return u.k }

// Policy 返回候选不足策略
func (u *Uniform) Policy() ShortfallPolicy { return u.policy }

func (u *Uniform) Sample(req Request) ([]int, bool, error) {
	excluded := 0
	for id := range req.Exclude {
		if id >= 1 && id <= u.universe && id != req.Positive {
			excluded++
		}
	}
	if req.Positive >= 1 && req.Positive <= u.universe {
		excluded++
	}
	have := u.universe - excluded

	k, shrunk := u.k, false
	if have < k {
		if u.policy == ShortfallFail {
			return nil, false, core.NewInsufficientCandidatesError(req.UserID, have, u.k)
		}
		k, shrunk = have, true
	}
	if k == 0 {
		return []int{}, shrunk, nil
	}

	rng := rand.New(rand.NewSource(u.sourceSeed(req.UserID, req.Position))) //nolint:gosec // 采样无需密码学随机数
	skip := func(id int) bool {
		if id == req.Positive {
			return true
		}
		_, ok := req.Exclude[id]
		return ok
	}

	// 候选较稀疏时拒绝采样，否则物化候选后做部分 Fisher-Yates
	if k*2 <= have {
		out := make([]int, 0, k)
		picked := make(map[int]struct{}, k)
		for len(out) < k {
			id := rng.Intn(u.universe) + 1
			if skip(id) {
				continue
			}
			if _, dup := picked[id]; dup {
				continue
			}
			picked[id] = struct{}{}
			out = append(out, id)
		}
		return out, shrunk, nil
	}

	candidates := make([]int, 0, have)
	for id := 1; id <= u.universe; id++ {
		if !skip(id) {
			candidates = append(candidates, id)
		}
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:k:k], shrunk, nil
}

func (u *Uniform) sourceSeed(userID string, position int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(u.seed))
	h.Write(buf[:])
	h.Write([]byte(userID))
	binary.LittleEndian.PutUint64(buf[:], uint64(position))
	h.Write(buf[:])
	return int64(h.Sum64())
}

// UserItems 返回用户全部交互过的物品 ID 集合
func UserItems(hs *sequence.Histories, h *sequence.History) map[int]struct{} {
	out := make(map[int]struct{}, h.Len())
	for _, r := range h.Records {
		if id, ok := hs.Items.ID(r.ItemID); ok {
			out[id] = struct{}{}
		}
	}
	return out
}

var (
	_ Sampler = Disabled{}
	_ Sampler = (*Uniform)(nil)
)
