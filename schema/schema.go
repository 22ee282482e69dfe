package schema

import (
	"fmt"
	"slices"
	"sort"

	"github.com/rushteam/seqkit/core"
)

// Preparation 对应 field_preparation.inter 中的一项
type Preparation struct {
	Field  string `yaml:"field" json:"field"`
	Type   string `yaml:"type" json:"type"`
	Source string `yaml:"source" json:"source"`
	List   bool   `yaml:"list" json:"list"`
	Dim    int    `yaml:"dim" json:"dim"`
}

// FeatureConfig 是校验 schema 所需的特征声明
type FeatureConfig struct {
	UserIDField string
	ItemIDField string
	TimeField   string
	RatingField string // 可为空

	TextFields      []string
	UserFeatures    []string
	NumericalFields []string
	NumericalDims   map[string]int
	Preparations    []Preparation

	// LoadColumns 每个来源文件需要加载的列；为空表示加载全部
	LoadColumns map[Source][]string
}

// Schema 是校验后的只读字段注册表，启动时构建一次，下游组件只持有引用。
type Schema struct {
	UserIDField string
	ItemIDField string
	TimeField   string
	RatingField string

	fields map[string]*Field
	names  []string
}

// Field 按名称查找字段
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields 返回全部字段（按名称排序）
func (s *Schema) Fields() []*Field {
	out := make([]*Field, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.fields[n])
	}
	return out
}

// FeatureFields 返回给定来源的非身份字段（按名称排序）
func (s *Schema) FeatureFields(src Source) []*Field {
	var out []*Field
	for _, n := range s.names {
		f := s.fields[n]
		if !f.Identity && f.Source == src {
			out = append(out, f)
		}
	}
	return out
}

// Len 返回字段数量
func (s *Schema) Len() int { return len(s.names) }

// Validate 将原始列声明与特征配置合并为 Schema。
//
// 失败情况（均为致命的 schema 错误）：
//   - load_col 或身份列引用了不存在的列：UnknownFieldError
//   - field_preparation 引用了不在 TEXT_FIELDS / USER_FEATURES / numerical_field_list 中的名字：UnknownFieldError
//   - 声明的特征在任何文件与 field_preparation 中都不存在：UnknownFieldError
//   - float 字段声明的 dim 与 numerical_field_dims 不一致：DimensionMismatchError
//   - 同名字段类型冲突：TypeMismatchError
func Validate(raw []RawField, fc FeatureConfig) (*Schema, error) {
	merged, err := mergeRaw(raw, fc.LoadColumns)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		UserIDField: fc.UserIDField,
		ItemIDField: fc.ItemIDField,
		TimeField:   fc.TimeField,
		RatingField: fc.RatingField,
		fields:      make(map[string]*Field),
	}

	identity := []struct {
		key, name string
		typ       FieldType
	}{
		{"USER_ID_FIELD", fc.UserIDField, TypeToken},
		{"ITEM_ID_FIELD", fc.ItemIDField, TypeToken},
		{"TIME_FIELD", fc.TimeField, TypeFloat},
		{"RATING_FIELD", fc.RatingField, TypeFloat},
	}
	for _, id := range identity {
		if id.name == "" {
			if id.key == "RATING_FIELD" {
				continue
			}
			return nil, core.NewInvalidInputError(core.ModuleSchema, id.key+" is required")
		}
		rf, ok := merged[id.name]
		if !ok {
			return nil, core.NewUnknownFieldError(core.ModuleSchema, id.name, id.key)
		}
		if rf.Type != id.typ || rf.IsList {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, id.name,
				fmt.Sprintf("%s must be a scalar %s, got %s", id.key, id.typ, rf.Decl()))
		}
		s.fields[id.name] = &Field{Name: id.name, Type: id.typ, Source: SourceInteraction, Dim: dimOf(id.typ), Identity: true}
	}

	declared := make(map[string]string)
	for _, group := range []struct {
		key   string
		names []string
	}{
		{"TEXT_FIELDS", fc.TextFields},
		{"USER_FEATURES", fc.UserFeatures},
		{"numerical_field_list", fc.NumericalFields},
	} {
		for _, n := range group.names {
			if _, ok := declared[n]; !ok {
				declared[n] = group.key
			}
		}
	}
	numerical := toSet(fc.NumericalFields)
	userFeatures := toSet(fc.UserFeatures)

	for _, name := range sortedKeys(fc.NumericalDims) {
		if _, ok := numerical[name]; !ok {
			return nil, core.NewUnknownFieldError(core.ModuleSchema, name, "numerical_field_dims")
		}
	}

	// field_preparation 优先决定类型、来源与维度
	prepared := make(map[string]Preparation, len(fc.Preparations))
	for _, p := range fc.Preparations {
		if _, ok := declared[p.Field]; !ok {
			return nil, core.NewUnknownFieldError(core.ModuleSchema, p.Field, "field_preparation.inter")
		}
		if _, dup := prepared[p.Field]; dup {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, p.Field, "declared twice in field_preparation.inter")
		}
		prepared[p.Field] = p
	}

	// 表头中出现但未被声明为特征的列，按来源文件保留
	candidates := make(map[string]struct{}, len(merged)+len(declared))
	for n := range merged {
		candidates[n] = struct{}{}
	}
	for n := range declared {
		candidates[n] = struct{}{}
	}

	names := make([]string, 0, len(candidates))
	for n := range candidates {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, isIdentity := s.fields[name]; isIdentity {
			if _, ok := declared[name]; ok {
				return nil, core.NewTypeMismatchError(core.ModuleSchema, name, "identity field cannot be declared as a feature")
			}
			continue
		}
		f, err := buildField(name, merged, prepared, declared, fc.NumericalDims, numerical, userFeatures)
		if err != nil {
			return nil, err
		}
		s.fields[name] = f
	}

	s.names = make([]string, 0, len(s.fields))
	for n := range s.fields {
		s.names = append(s.names, n)
	}
	sort.Strings(s.names)
	return s, nil
}

func buildField(
	name string,
	merged map[string]RawField,
	prepared map[string]Preparation,
	declared map[string]string,
	numericalDims map[string]int,
	numerical, userFeatures map[string]struct{},
) (*Field, error) {
	rf, inRaw := merged[name]
	p, isPrepared := prepared[name]
	if !inRaw && !isPrepared {
		return nil, core.NewUnknownFieldError(core.ModuleSchema, name, declared[name])
	}

	f := &Field{Name: name}
	if inRaw {
		f.Type, f.IsList, f.Dim, f.Source = rf.Type, rf.IsList, rf.Dim, rf.Origin
	}
	if isPrepared {
		typ, err := ParseFieldType(p.Type)
		if err != nil {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, name, err.Error())
		}
		if inRaw && (typ != rf.Type || p.List != rf.IsList) {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, name,
				fmt.Sprintf("field_preparation declares %s (list=%v), column header is %s", typ, p.List, rf.Decl()))
		}
		f.Type, f.IsList = typ, p.List
		if p.Source != "" {
			src, err := ParseSource(p.Source)
			if err != nil {
				return nil, core.NewTypeMismatchError(core.ModuleSchema, name, err.Error())
			}
			f.Source = src
		}
		if f.Type == TypeFloat {
			f.Dim = p.Dim
		}
	}
	if f.Source == "" {
		f.Source = SourceItem
	}
	if _, ok := userFeatures[name]; ok {
		if isPrepared && p.Source != "" && f.Source != SourceUser {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, name, "listed in USER_FEATURES but prepared with source "+string(f.Source))
		}
		f.Source = SourceUser
	}

	if _, ok := numerical[name]; ok && f.Type != TypeFloat {
		return nil, core.NewTypeMismatchError(core.ModuleSchema, name, "numerical_field_list entries must be float")
	}

	if f.Type != TypeFloat {
		f.Dim = 0
		return f, nil
	}

	if want, ok := numericalDims[name]; ok {
		switch {
		case f.Dim == 0:
			f.Dim = want
		case f.Dim != want:
			return nil, core.NewDimensionMismatchError(core.ModuleSchema, name, "", want, f.Dim)
		}
	}
	if !f.IsList {
		if f.Dim == 0 {
			f.Dim = 1
		}
		if f.Dim != 1 {
			return nil, core.NewDimensionMismatchError(core.ModuleSchema, name, "", 1, f.Dim)
		}
	}
	if f.Dim <= 0 {
		return nil, core.NewInvalidInputError(core.ModuleSchema, fmt.Sprintf("float field %q requires a positive dim", name))
	}
	return f, nil
}

// mergeRaw 合并多个文件的列声明，并按 load_col 过滤
func mergeRaw(raw []RawField, load map[Source][]string) (map[string]RawField, error) {
	present := make(map[Source]map[string]struct{})
	for _, rf := range raw {
		if present[rf.Origin] == nil {
			present[rf.Origin] = make(map[string]struct{})
		}
		present[rf.Origin][rf.Name] = struct{}{}
	}
	for _, src := range []Source{SourceInteraction, SourceUser, SourceItem} {
		for _, c := range load[src] {
			if _, ok := present[src][c]; !ok {
				return nil, core.NewUnknownFieldError(core.ModuleSchema, c, "load_col."+loadKey(src))
			}
		}
	}

	merged := make(map[string]RawField, len(raw))
	for _, rf := range raw {
		if cols := load[rf.Origin]; len(cols) > 0 && !slices.Contains(cols, rf.Name) {
			continue
		}
		old, ok := merged[rf.Name]
		if !ok {
			merged[rf.Name] = rf
			continue
		}
		if old.Type != rf.Type || old.IsList != rf.IsList {
			return nil, core.NewTypeMismatchError(core.ModuleSchema, rf.Name,
				fmt.Sprintf("declared as %s in %s file and %s in %s file", old.Decl(), old.Origin, rf.Decl(), rf.Origin))
		}
	}
	return merged, nil
}

func loadKey(src Source) string {
	if src == SourceInteraction {
		return "inter"
	}
	return string(src)
}

func dimOf(t FieldType) int {
	if t == TypeFloat {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
