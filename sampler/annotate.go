package sampler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/workers"
	"github.com/rushteam/seqkit/sequence"
)

// Stats 是一次负采样的计数
type Stats struct {
	Sampler   string `json:"sampler"`
	K         int    `json:"k"`
	Windows   int    `json:"windows"`
	Negatives int    `json:"negatives"`
	Shrunk    int    `json:"shrunk"`
	Skipped   int    `json:"skipped"`
}

type annotateConfig struct {
	workers int
	logger  zerolog.Logger
}

// AnnotateOption 配置 Annotate
type AnnotateOption func(*annotateConfig)

// WithWorkers 设置并发数
func WithWorkers(n int) AnnotateOption {
	return func(c *annotateConfig) { c.workers = n }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) AnnotateOption {
	return func(c *annotateConfig) { c.logger = l }
}

type chunkOut struct {
	kept  []*sequence.Window
	stats Stats
}

// Annotate 为每个窗口填充 Negatives，排除集合为该用户的完整历史。
// 候选不足且策略为 fail 的窗口从结果中移除并计入 Skipped；其余错误中止。
// 返回的窗口保持输入顺序。
func Annotate(hs *sequence.Histories, windows []*sequence.Window, s Sampler, opts ...AnnotateOption) ([]*sequence.Window, Stats, error) {
	cfg := annotateConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	total := Stats{Sampler: s.Name(), K: s.K()}
	if !s.Enabled() {
		total.Windows = len(windows)
		return windows, total, nil
	}
	start := time.Now()

	chunks := make([]chunkOut, workers.Chunks(len(windows), cfg.workers))
	err := workers.ForEachChunk(len(windows), cfg.workers, func(c, lo, hi int) error {
		out := &chunks[c]
		out.kept = make([]*sequence.Window, 0, hi-lo)
		var (
			user    string
			exclude map[int]struct{}
		)
		for _, w := range windows[lo:hi] {
			if exclude == nil || w.UserID != user {
				h, ok := hs.History(w.UserID)
				if !ok {
					return core.NewInvalidInputError(core.ModuleSampler, fmt.Sprintf("window for unknown user %q", w.UserID))
				}
				user, exclude = w.UserID, UserItems(hs, h)
			}
			out.stats.Windows++
			negs, shrunk, err := s.Sample(Request{
				UserID:   w.UserID,
				Position: w.Position,
				Positive: w.Target.ItemID,
				Exclude:  exclude,
			})
			if core.IsInsufficientCandidates(err) {
				out.stats.Skipped++
				cfg.logger.Warn().
					Str("user_id", w.UserID).
					Int("position", w.Position).
					Err(err).
					Msg("sampler: insufficient candidates, window skipped")
				continue
			}
			if err != nil {
				return fmt.Errorf("sample user %s position %d: %w", w.UserID, w.Position, err)
			}
			if shrunk {
				out.stats.Shrunk++
			}
			out.stats.Negatives += len(negs)
			w.Negatives = negs
			out.kept = append(out.kept, w)
		}
		return nil
	})
	if err != nil {
		return nil, total, err
	}

	kept := make([]*sequence.Window, 0, len(windows))
	for _, c := range chunks {
		kept = append(kept, c.kept...)
		total.Windows += c.stats.Windows
		total.Negatives += c.stats.Negatives
		total.Shrunk += c.stats.Shrunk
		total.Skipped += c.stats.Skipped
	}
	if total.Shrunk > 0 {
		cfg.logger.Warn().Int("windows", total.Shrunk).Int("k", total.K).Msg("sampler: fewer candidates than k, negatives shrunk")
	}
	cfg.logger.Info().
		Str("sampler", total.Sampler).
		Int("windows", total.Windows).
		Int("negatives", total.Negatives).
		Int("skipped", total.Skipped).
		Dur("took", time.Since(start)).
		Msg("sampler: done")
	return kept, total, nil
}
