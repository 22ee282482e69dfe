package sequence

import (
	"iter"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
)

// Window 是一个训练 / 评估样本：目标交互之前的最近 MaxLen 条交互，左侧以 PAD 填充。
//
// 不变式：Length 等于 ItemIDs 中非 PAD 元素个数，PAD 全部位于左侧。
type Window struct {
	UserID string `json:"user_id"`
	// Position 目标交互在用户历史中的位置（从 1 开始）
	Position int `json:"position"`

	ItemIDs []int `json:"item_ids"`
	Length  int   `json:"length"`

	Target Target `json:"target"`

	// Columns 与 ItemIDs 逐位置对齐的特征数组（物品级、交互级字段）
	Columns map[string]*Column `json:"columns,omitempty"`
	// UserFeatures 用户级特征
	UserFeatures map[string]core.Value `json:"user_features,omitempty"`

	// Negatives 负采样得到的物品 ID（采样关闭时为空）
	Negatives []int `json:"negatives,omitempty"`
}

// Target 是窗口预测的目标交互
type Target struct {
	ItemID    int                   `json:"item_id"`
	Item      string                `json:"item"`
	Rating    float64               `json:"rating"`
	Timestamp float64               `json:"timestamp"`
	Features  map[string]core.Value `json:"features,omitempty"`
}

// Column 是一个字段在窗口内的逐位置取值。
//   - float 字段：Floats 长度为 MaxLen*Dim，PAD 位置为 0
//   - token 字段：Tokens 长度为 MaxLen，token 经字段词表映射为 ID，PAD 位置为 nil
type Column struct {
	Dim    int       `json:"dim,omitempty"`
	Floats []float32 `json:"floats,omitempty"`
	Tokens [][]int   `json:"tokens,omitempty"`
}

// Pads 返回 PAD 位置数
func (w *Window) Pads() int { return len(w.ItemIDs) - w.Length }

// Windows 按时间顺序惰性生成用户全部位置的窗口
func (hs *Histories) Windows(h *History) iter.Seq[*Window] {
	return hs.WindowsRange(h, 0, h.Len())
}

// WindowsRange 生成目标下标（从 0 开始）位于 [lo, hi) 的窗口。
// 窗口上下文取自目标之前的完整历史，与目标所在的划分无关。
func (hs *Histories) WindowsRange(h *History, lo, hi int) iter.Seq[*Window] {
	return func(yield func(*Window) bool) {
		lo = max(lo, 0)
		hi = min(hi, h.Len())
		for i := lo; i < hi; i++ {
			if i == 0 && hs.first == FirstSkip {
				continue
			}
			if !yield(hs.window(h, i)) {
				return
			}
		}
	}
}

// CountRange 返回 WindowsRange 将生成的窗口数
func (hs *Histories) CountRange(h *History, lo, hi int) int {
	lo = max(lo, 0)
	hi = min(hi, h.Len())
	if hi <= lo {
		return 0
	}
	n := hi - lo
	if lo == 0 && hs.first == FirstSkip {
		n--
	}
	return n
}

func (hs *Histories) window(h *History, i int) *Window {
	start := max(0, i-hs.maxLen)
	prev := h.Records[start:i]
	pad := hs.maxLen - len(prev)

	w := &Window{
		UserID:   h.UserID,
		Position: i + 1,
		ItemIDs:  make([]int, hs.maxLen),
		Length:   len(prev),
	}
	for j, r := range prev {
		w.ItemIDs[pad+j], _ = hs.Items.ID(r.ItemID)
	}

	target := h.Records[i]
	w.Target = Target{
		Item:      target.ItemID,
		Rating:    target.Rating,
		Timestamp: target.Timestamp,
		Features:  target.Features,
	}
	w.Target.ItemID, _ = hs.Items.ID(target.ItemID)

	if len(hs.seqFields) > 0 {
		w.Columns = make(map[string]*Column, len(hs.seqFields))
		for _, f := range hs.seqFields {
			w.Columns[f.Name] = hs.column(f, prev, pad)
		}
	}
	if len(hs.userFields) > 0 {
		w.UserFeatures = make(map[string]core.Value, len(hs.userFields))
		for _, f := range hs.userFields {
			if v, ok := target.Features[f.Name]; ok {
				w.UserFeatures[f.Name] = v
			}
		}
	}
	return w
}

func (hs *Histories) column(f *schema.Field, prev []*core.Record, pad int) *Column {
	if f.Type == schema.TypeFloat {
		c := &Column{Dim: f.Dim, Floats: make([]float32, hs.maxLen*f.Dim)}
		for j, r := range prev {
			copy(c.Floats[(pad+j)*f.Dim:(pad+j+1)*f.Dim], r.Features[f.Name].Floats)
		}
		return c
	}
	c := &Column{Tokens: make([][]int, hs.maxLen)}
	vocab := hs.Tokens[f.Name]
	for j, r := range prev {
		c.Tokens[pad+j] = vocab.IDs(r.Features[f.Name].Tokens)
	}
	return c
}
