package sequence

import (
	"slices"
)

// PAD 是序列中空位置的保留 ID，不参与 loss / 指标计算
const PAD = 0

// Vocab 把 token 映射为稠密 ID。ID 从 1 开始按 token 字典序分配，0 保留给 PAD，
// 相同的输入集合在任意运行中得到相同的映射。
type Vocab struct {
	tokens []string // tokens[id-1]
	ids    map[string]int
}

// NewVocab 用 token 集合构建词表，重复 token 只保留一个
func NewVocab(tokens []string) *Vocab {
	sorted := slices.Clone(tokens)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	v := &Vocab{tokens: sorted, ids: make(map[string]int, len(sorted))}
	for i, tok := range sorted {
		v.ids[tok] = i + 1
	}
	return v
}

// ID 返回 token 的 ID，不存在时返回 PAD
func (v *Vocab) ID(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Token 返回 ID 对应的 token，PAD 与越界 ID 返回空串
func (v *Vocab) Token(id int) string {
	if id <= PAD || id > len(v.tokens) {
		return ""
	}
	return v.tokens[id-1]
}

// Len 返回 token 数（不含 PAD）
func (v *Vocab) Len() int { return len(v.tokens) }

// Tokens 返回按 ID 顺序排列的 token（下标 i 对应 ID i+1）
func (v *Vocab) Tokens() []string { return slices.Clone(v.tokens) }

// IDs 把 token 列表映射为 ID 列表，未登录 token 被跳过
func (v *Vocab) IDs(tokens []string) []int {
	out := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := v.ids[tok]; ok {
			out = append(out, id)
		}
	}
	return out
}
