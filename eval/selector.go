package eval

import (
	"fmt"

	"github.com/rushteam/seqkit/core"
)

// Selector 跟踪 valid_metric 在多次评估中的最好值，连续 patience 次未提升时给出停止信号。
// 它只报告信号，训练循环由外部驱动。
type Selector struct {
	key      Key
	patience int

	step     int
	best     float64
	bestStep int
	bad      int
}

// NewSelector 创建 Selector，validMetric 形如 "NDCG@10"；patience <= 0 表示从不停止
func NewSelector(validMetric string, patience int) (*Selector, error) {
	k, err := ParseKey(validMetric)
	if err != nil {
		return nil, err
	}
	return &Selector{key: k, patience: patience, bestStep: -1}, nil
}

// Key 返回被跟踪的指标
func (s *Selector) Key() Key { return s.key }

// Observe 记录一次评估。improved 表示严格优于此前最好值；stop 表示已连续 patience 次未提升。
func (s *Selector) Observe(r *Report) (improved, stop bool, err error) {
	v, ok := r.Get(s.key)
	if !ok {
		return false, false, core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("report has no valid_metric %s", s.key))
	}
	defer func() { s.step++ }()

	if s.bestStep < 0 || v > s.best {
		s.best, s.bestStep, s.bad = v, s.step, 0
		return true, false, nil
	}
	s.bad++
	return false, s.patience > 0 && s.bad >= s.patience, nil
}

// Best 返回最好值及其出现的评估序号（从 0 开始），尚无评估时 step 为 -1
func (s *Selector) Best() (step int, value float64) { return s.bestStep, s.best }
