package eval

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/sequence"
)

// Rank 按得分降序排列候选，得分相同按物品 ID 升序，结果在相同输入下可复现。
// PAD、exclude 中的物品以及重复出现的物品（保留得分最高的一次）被剔除；NaN 得分排在最后。
func Rank(items []int, scores []float64, exclude map[int]struct{}) ([]int, error) {
	if len(items) != len(scores) {
		return nil, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("%d items but %d scores", len(items), len(scores)))
	}
	type scored struct {
		id    int
		score float64
		nan   bool
	}
	cands := make([]scored, 0, len(items))
	for i, id := range items {
		if id == sequence.PAD {
			continue
		}
		if _, ok := exclude[id]; ok {
			continue
		}
		cands = append(cands, scored{id: id, score: scores[i], nan: math.IsNaN(scores[i])})
	}
	slices.SortFunc(cands, func(a, b scored) int {
		if a.nan != b.nan {
			if a.nan {
				return 1
			}
			return -1
		}
		if n := cmp.Compare(b.score, a.score); !a.nan && n != 0 {
			return n
		}
		return cmp.Compare(a.id, b.id)
	})

	out := make([]int, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.id)
	}
	return dedupe(out, nil), nil
}

// dedupe 保留每个物品第一次出现的位置，并剔除 PAD 与 exclude 中的物品
func dedupe(items []int, exclude map[int]struct{}) []int {
	seen := make(map[int]struct{}, len(items))
	out := make([]int, 0, len(items))
	for _, id := range items {
		if id == sequence.PAD {
			continue
		}
		if _, ok := exclude[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
