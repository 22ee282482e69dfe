package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/schema"
)

// Interactions 将 .inter 文件转换为交互记录。
// 身份列按 float64 解析（时间戳需要完整精度），时间戳与评分必须是有限值；其余列若在 schema 中登记为 interaction 来源则写入 Fields。
func (f *Frame) Interactions(s *schema.Schema) ([]core.Interaction, error) {
	uc, ic, tc := f.Column(s.UserIDField), f.Column(s.ItemIDField), f.Column(s.TimeField)
	for _, c := range []struct {
		idx  int
		name string
	}{{uc, s.UserIDField}, {ic, s.ItemIDField}, {tc, s.TimeField}} {
		if c.idx < 0 {
			return nil, core.NewUnknownFieldError(core.ModuleTable, c.name, "interaction file header")
		}
	}
	rc := -1
	if s.RatingField != "" {
		rc = f.Column(s.RatingField)
	}

	type slot struct {
		idx   int
		field *schema.Field
	}
	var slots []slot
	for _, fd := range s.FeatureFields(schema.SourceInteraction) {
		if idx := f.Column(fd.Name); idx >= 0 {
			slots = append(slots, slot{idx, fd})
		}
	}

	out := make([]core.Interaction, 0, len(f.Cells))
	for n, row := range f.Cells {
		ts, err := parseFinite(row[tc])
		if err != nil {
			return nil, rowError(n, s.TimeField, err)
		}
		it := core.Interaction{
			UserID:    strings.TrimSpace(row[uc]),
			ItemID:    strings.TrimSpace(row[ic]),
			Timestamp: ts,
		}
		if rc >= 0 {
			if it.Rating, err = parseFinite(row[rc]); err != nil {
				return nil, rowError(n, s.RatingField, err)
			}
		}
		if len(slots) > 0 {
			it.Fields = make(map[string]core.Value, len(slots))
			for _, sl := range slots {
				v, err := ParseCell(row[sl.idx], sl.field.Type, sl.field.IsList, f.seqSep)
				if err != nil {
					return nil, rowError(n, sl.field.Name, err)
				}
				it.Fields[sl.field.Name] = v
			}
		}
		out = append(out, it)
	}
	return out, nil
}

// Entities 将 .user / .item 文件转换为 id -> 字段取值 的行集合，
// 只保留 schema 中来源与文件来源一致的特征列。重复 id 以最后一行为准。
func (f *Frame) Entities(s *schema.Schema, idField string) (map[string]map[string]core.Value, error) {
	idc := f.Column(idField)
	if idc < 0 {
		return nil, core.NewUnknownFieldError(core.ModuleTable, idField, string(f.Origin)+" file header")
	}

	type slot struct {
		idx   int
		field *schema.Field
	}
	var slots []slot
	for _, fd := range s.FeatureFields(f.Origin) {
		if idx := f.Column(fd.Name); idx >= 0 {
			slots = append(slots, slot{idx, fd})
		}
	}

	rows := make(map[string]map[string]core.Value, len(f.Cells))
	for n, row := range f.Cells {
		id := strings.TrimSpace(row[idc])
		values := make(map[string]core.Value, len(slots))
		for _, sl := range slots {
			v, err := ParseCell(row[sl.idx], sl.field.Type, sl.field.IsList, f.seqSep)
			if err != nil {
				return nil, rowError(n, sl.field.Name, err)
			}
			values[sl.field.Name] = v
		}
		rows[id] = values
	}
	return rows, nil
}

// parseFinite 解析时间戳 / 评分，空值、NaN 与 Inf 返回错误
func parseFinite(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", cell)
	}
	return v, nil
}

func rowError(n int, field string, err error) error {
	return core.NewInvalidInputError(core.ModuleTable, fmt.Sprintf("row %d field %s: %v", n+1, field, err))
}
