package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/seqkit/core"
)

const maxLineSize = 64 << 20

// TruthLine 是真实物品文件中的一行
type TruthLine struct {
	UserID string `json:"user_id"`
	Items  []int  `json:"items"`
}

// ReadLists 读取 JSONL 格式的模型输出，每行一个 ScoredList。
// 没有 scores 的行视为已按得分降序排好的列表。
func ReadLists(r io.Reader) ([]ScoredList, error) {
	var out []ScoredList
	err := eachLine(r, func(n int, line []byte) error {
		var l ScoredList
		if err := json.Unmarshal(line, &l); err != nil {
			return core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("line %d: %v", n, err))
		}
		if l.UserID == "" {
			return core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("line %d: user_id is required", n))
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// ReadTruth 读取 JSONL 格式的真实物品，同一用户出现多次时合并
func ReadTruth(r io.Reader) (map[string][]int, error) {
	out := make(map[string][]int)
	err := eachLine(r, func(n int, line []byte) error {
		var l TruthLine
		if err := json.Unmarshal(line, &l); err != nil {
			return core.NewInvalidInputError(core.ModuleEval, fmt.Sprintf("line %d: %v", n, err))
		}
		out[l.UserID] = append(out[l.UserID], l.Items...)
		return nil
	})
	return out, err
}

// Open 打开输入文件；路径以 .zst 结尾时透明解压。调用方负责 Close。
func Open(path string) (io.ReadCloser, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return fh, nil
	}
	dec, err := zstd.NewReader(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("zstd reader %s: %w", path, err)
	}
	return &zstdFile{Decoder: dec, fh: fh}, nil
}

type zstdFile struct {
	*zstd.Decoder
	fh *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.fh.Close()
}

// EvaluateLists 计算 ReadLists 读入的列表：有 scores 的先经 Rank 排序截断，其余按给定顺序使用
func (e *Evaluator) EvaluateLists(lists []ScoredList, truth map[string][]int) (*Report, error) {
	ranked := make([]RankedList, 0, len(lists))
	for _, l := range lists {
		items := dedupe(l.Items, toSet(l.Exclude))
		if len(l.Scores) > 0 {
			var err error
			if items, err = Rank(l.Items, l.Scores, toSet(l.Exclude)); err != nil {
				return nil, fmt.Errorf("rank user %s: %w", l.UserID, err)
			}
		}
		ranked = append(ranked, RankedList{UserID: l.UserID, Items: items[:min(len(items), e.maxK)]})
	}
	return e.Evaluate(ranked, truth)
}

func eachLine(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return sc.Err()
}
