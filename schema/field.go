package schema

import (
	"fmt"
	"strings"

	"github.com/rushteam/seqkit/core"
)

// FieldType 是字段的基础类型
type FieldType string

const (
	TypeToken FieldType = "token" // 类别 / ID
	TypeFloat FieldType = "float" // 数值 / 向量
)

// Source 标记字段取值的来源表
type Source string

const (
	SourceInteraction Source = "interaction"
	SourceUser        Source = "user"
	SourceItem        Source = "item"
)

// ParseSource 解析来源名称，同时接受 RecBole 的文件后缀写法（inter / user / item）
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interaction", "inter":
		return SourceInteraction, nil
	case "user":
		return SourceUser, nil
	case "item":
		return SourceItem, nil
	default:
		return "", fmt.Errorf("unknown field source %q", s)
	}
}

// ParseFieldType 解析字段类型
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "token":
		return TypeToken, nil
	case "float":
		return TypeFloat, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// RawField 是原子文件表头中的一列声明，例如 "item_emb:float_seq"。
// Dim 在表头中不可知（float 标量为 1，float_seq 为 0，由配置补全）。
type RawField struct {
	Name   string
	Type   FieldType
	IsList bool
	Dim    int
	Origin Source
}

// ParseRawField 解析一列表头声明 name:type，type 取 token / token_seq / float / float_seq
func ParseRawField(decl string, origin Source) (RawField, error) {
	name, typ, ok := strings.Cut(strings.TrimSpace(decl), ":")
	if !ok || name == "" {
		return RawField{}, core.NewInvalidInputError(core.ModuleSchema, fmt.Sprintf("malformed column header %q, want name:type", decl))
	}
	rf := RawField{Name: name, Origin: origin}
	switch typ {
	case "token":
		rf.Type = TypeToken
	case "token_seq":
		rf.Type, rf.IsList = TypeToken, true
	case "float":
		rf.Type, rf.Dim = TypeFloat, 1
	case "float_seq":
		rf.Type, rf.IsList = TypeFloat, true
	default:
		return RawField{}, core.NewInvalidInputError(core.ModuleSchema, fmt.Sprintf("column %q: unsupported type %q", name, typ))
	}
	return rf, nil
}

// Decl 返回表头形式的声明
func (rf RawField) Decl() string {
	t := string(rf.Type)
	if rf.IsList {
		t += "_seq"
	}
	return rf.Name + ":" + t
}

// Field 是校验后的字段描述，构建后不可变。
type Field struct {
	Name     string
	Type     FieldType
	Source   Source
	IsList   bool
	Dim      int  // float 字段的向量长度；token 字段为 0
	Identity bool // user / item / time / rating 身份列
}

// Check 校验取值形状与声明一致。
// float 字段长度必须等于 Dim，否则返回 DimensionMismatchError；
// 非列表 token 字段必须恰好一个 token。
func (f *Field) Check(v core.Value, entity string) error {
	switch f.Type {
	case TypeFloat:
		if len(v.Floats) != f.Dim {
			return core.NewDimensionMismatchError(core.ModuleFeature, f.Name, entity, f.Dim, len(v.Floats))
		}
	case TypeToken:
		if !f.IsList && len(v.Tokens) != 1 {
			return core.NewTypeMismatchError(core.ModuleFeature, f.Name,
				fmt.Sprintf("want exactly one token, got %d (entity %s)", len(v.Tokens), entity))
		}
	}
	return nil
}

// Zero 返回字段的默认取值：float 为零向量，token 为 defaultToken（列表为空）
func (f *Field) Zero(defaultToken string) core.Value {
	switch f.Type {
	case TypeFloat:
		return core.VectorValue(make([]float32, f.Dim))
	default:
		if f.IsList {
			return core.TokensValue()
		}
		return core.TokenValue(defaultToken)
	}
}
