package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/seqkit/eval"
	"github.com/rushteam/seqkit/sequence"
	"github.com/rushteam/seqkit/split"
)

// ExportOption 配置 Export
type ExportOption func(*exportConfig)

type exportConfig struct {
	compress bool
}

// WithCompression 以 zstd 压缩写出 JSONL 文件（文件名追加 .zst）
func WithCompression(on bool) ExportOption {
	return func(c *exportConfig) { c.compress = on }
}

// Export 将运行结果写入 dir：
//   - train / valid / test.jsonl：每行一个窗口
//   - valid / test.truth.jsonl：每个用户的真实物品
//   - assignments.json、report.json、items.json（物品词表，下标即物品 ID）
//
// 返回写出的文件路径。
func Export(dir string, st *State, opts ...ExportOption) ([]string, error) {
	var cfg exportConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var written []string
	jsonl := func(name string, write func(enc *json.Encoder) error) error {
		if cfg.compress {
			name += ".zst"
		}
		p := filepath.Join(dir, name)
		if err := writeFile(p, cfg.compress, write); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, p)
		return nil
	}

	for _, part := range []split.Part{split.Train, split.Valid, split.Test} {
		windows := st.Split.Windows(part)
		if err := jsonl(part.String()+".jsonl", func(enc *json.Encoder) error {
			return encodeWindows(enc, windows)
		}); err != nil {
			return written, err
		}
		if part == split.Train {
			continue
		}
		if err := jsonl(part.String()+".truth.jsonl", func(enc *json.Encoder) error {
			return encodeTruth(enc, windows)
		}); err != nil {
			return written, err
		}
	}

	items := append([]string{""}, st.Histories.Items.Tokens()...)
	for _, out := range []struct {
		name string
		v    any
	}{
		{"assignments.json", st.Split.Assignments},
		{"report.json", st.Report},
		{"items.json", items},
	} {
		name, v := out.name, out.v
		p := filepath.Join(dir, name)
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return written, fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, p)
	}
	return written, nil
}

func encodeWindows(enc *json.Encoder, windows []*sequence.Window) error {
	for _, w := range windows {
		if err := enc.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func encodeTruth(enc *json.Encoder, windows []*sequence.Window) error {
	truth := split.GroundTruth(windows)
	seen := make(map[string]struct{}, len(truth))
	for _, w := range windows {
		if _, ok := seen[w.UserID]; ok {
			continue
		}
		seen[w.UserID] = struct{}{}
		if err := enc.Encode(eval.TruthLine{UserID: w.UserID, Items: truth[w.UserID]}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, compress bool, write func(enc *json.Encoder) error) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(fh)
	var w io.Writer = bw
	var zw *zstd.Encoder
	if compress {
		if zw, err = zstd.NewWriter(bw); err != nil {
			return err
		}
		w = zw
	}
	if err := write(json.NewEncoder(w)); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}
