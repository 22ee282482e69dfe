// Package table 读取以分隔符切分的原子文件（.inter / .user / .item）。
//
// 文件第一行为表头，每列声明为 name:type（token / token_seq / float / float_seq），
// 列表类单元格内部使用 seq_separator 再次切分。以 .zst 结尾的文件透明解压。
package table

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/conv"
	"github.com/rushteam/seqkit/schema"
)

const maxLineSize = 64 << 20

// Options 控制解析方式
type Options struct {
	FieldSeparator string   // 列分隔符，默认 "\t"
	SeqSeparator   string   // 列表单元格内分隔符，默认 " "
	Columns        []string // 需要加载的列（load_col），为空则加载全部
}

func (o Options) withDefaults() Options {
	if o.FieldSeparator == "" {
		o.FieldSeparator = "\t"
	}
	if o.SeqSeparator == "" {
		o.SeqSeparator = " "
	}
	return o
}

// Frame 是一个已读取的原子文件：列声明与（按 load_col 投影后的）原始单元格。
// 单元格在转换为交互 / 实体时按字段类型解析。
type Frame struct {
	Origin schema.Source
	Fields []schema.RawField
	Cells  [][]string

	seqSep string
}

// Len 返回行数
func (f *Frame) Len() int { return len(f.Cells) }

// Column 返回列下标，不存在时返回 -1
func (f *Frame) Column(name string) int {
	for i, rf := range f.Fields {
		if rf.Name == name {
			return i
		}
	}
	return -1
}

// Open 打开并解析文件；路径以 .zst 结尾时使用 zstd 解压。
func Open(path string, origin schema.Source, opts Options) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(fh, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, fmt.Errorf("zstd reader %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	frame, err := Read(r, origin, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return frame, nil
}

// Read 从 r 解析一个原子文件
func Read(r io.Reader, origin schema.Source, opts Options) (*Frame, error) {
	opts = opts.withDefaults()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, core.NewInvalidInputError(core.ModuleTable, "empty file, header line required")
	}

	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), opts.FieldSeparator)
	all := make([]schema.RawField, len(header))
	for i, decl := range header {
		rf, err := schema.ParseRawField(strings.TrimPrefix(decl, "\uFEFF"), origin)
		if err != nil {
			return nil, err
		}
		all[i] = rf
	}

	// 按 load_col 投影列
	keep := make([]int, 0, len(all))
	for i, rf := range all {
		if len(opts.Columns) == 0 || slices.Contains(opts.Columns, rf.Name) {
			keep = append(keep, i)
		}
	}
	frame := &Frame{Origin: origin, Fields: make([]schema.RawField, len(keep))}
	for j, i := range keep {
		frame.Fields[j] = all[i]
	}

	frame.seqSep = opts.SeqSeparator

	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		cells := strings.Split(text, opts.FieldSeparator)
		if len(cells) != len(all) {
			return nil, core.NewInvalidInputError(core.ModuleTable,
				fmt.Sprintf("line %d: got %d cells, header declares %d", line, len(cells), len(all)))
		}
		row := make([]string, len(keep))
		for j, i := range keep {
			row[j] = cells[i]
		}
		frame.Cells = append(frame.Cells, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frame, nil
}

// ParseCell 按字段类型解析单元格。空的标量 float 单元格返回空取值，由下游维度校验处理。
func ParseCell(cell string, typ schema.FieldType, isList bool, seqSep string) (core.Value, error) {
	switch {
	case typ == schema.TypeToken && !isList:
		return core.TokenValue(strings.TrimSpace(cell)), nil
	case typ == schema.TypeToken:
		return core.TokensValue(conv.SplitList(cell, seqSep)...), nil
	case !isList:
		cell = strings.TrimSpace(cell)
		if cell == "" {
			return core.Value{}, nil
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return core.Value{}, err
		}
		return core.FloatValue(float32(f)), nil
	default:
		floats, err := conv.ParseFloats(cell, seqSep)
		if err != nil {
			return core.Value{}, err
		}
		return core.VectorValue(floats), nil
	}
}
