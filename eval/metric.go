// Package eval 计算 top-K 排序指标（Hit / MRR / NDCG / Precision / Recall）。
//
// 每个用户的指标独立计算，再对拥有真实物品的用户取算术平均；
// 没有真实物品的用户不进入分母。
package eval

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rushteam/seqkit/core"
)

// Metric 指标名称
type Metric string

const (
	Hit       Metric = "hit"
	MRR       Metric = "mrr"
	NDCG      Metric = "ndcg"
	Precision Metric = "precision"
	Recall    Metric = "recall"
)

// AllMetrics 按默认输出顺序列出支持的指标
var AllMetrics = []Metric{Hit, MRR, NDCG, Precision, Recall}

// ParseMetric 解析指标名（大小写不敏感）
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case Hit, MRR, NDCG, Precision, Recall:
		return m, nil
	}
	return "", core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("unknown metric %q", s))
}

// Key 标识一个 (指标, k) 组合
type Key struct {
	Metric Metric
	K      int
}

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.Metric, k.K) }

// ParseKey 解析 "NDCG@10" 形式的键
func ParseKey(s string) (Key, error) {
	name, kstr, ok := strings.Cut(s, "@")
	if !ok {
		return Key{}, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("metric key %q must look like metric@k", s))
	}
	m, err := ParseMetric(name)
	if err != nil {
		return Key{}, err
	}
	k, err := strconv.Atoi(strings.TrimSpace(kstr))
	if err != nil || k <= 0 {
		return Key{}, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("metric key %q has invalid k", s))
	}
	return Key{Metric: m, K: k}, nil
}

// userMetrics 计算单个用户在各 k 下的指标。ranked 已去重且不含 PAD，truth 非空。
// 结果按 keys 的顺序写入 out。
func userMetrics(ranked []int, truth map[int]struct{}, keys []Key, out []float64) {
	// 预先计算前缀：hits[i] 为前 i 个位置命中数，dcg[i] 为前 i 个位置的 DCG
	maxK := 0
	for _, k := range keys {
		maxK = max(maxK, k.K)
	}
	n := min(maxK, len(ranked))
	hits := make([]int, n+1)
	dcg := make([]float64, n+1)
	firstHit := 0
	for i := 0; i < n; i++ {
		hits[i+1] = hits[i]
		dcg[i+1] = dcg[i]
		if _, ok := truth[ranked[i]]; ok {
			hits[i+1]++
			dcg[i+1] += 1 / math.Log2(float64(i+2))
			if firstHit == 0 {
				firstHit = i + 1
			}
		}
	}

	for j, key := range keys {
		upto := min(key.K, n)
		h := hits[upto]
		switch key.Metric {
		case Hit:
			if h > 0 {
				out[j] = 1
			} else {
				out[j] = 0
			}
		case MRR:
			if firstHit > 0 && firstHit <= key.K {
				out[j] = 1 / float64(firstHit)
			} else {
				out[j] = 0
			}
		case NDCG:
			out[j] = dcg[upto] / idcg(min(len(truth), key.K))
		case Precision:
			out[j] = float64(h) / float64(key.K)
		case Recall:
			out[j] = float64(h) / float64(len(truth))
		}
	}
}

func idcg(n int) float64 {
	s := 0.0
	for i := 1; i <= n; i++ {
		s += 1 / math.Log2(float64(i+1))
	}
	return s
}
