package feature

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/pkg/conv"
	"github.com/rushteam/seqkit/schema"
)

// Source 是实体特征的来源，采用策略模式。
// 不同的来源（原子文件、KV 存储、Feast）实现此接口。
type Source interface {
	// Name 返回来源名称（用于日志）
	Name() string

	// Fetch 批量读取实体特征；不存在的实体不出现在结果中
	Fetch(ctx context.Context, ids []string) (map[string]map[string]core.Value, error)
}

// MapSource 是内存中的特征来源，通常由原子文件（.user / .item）解析得到
type MapSource struct {
	name string
	rows map[string]map[string]core.Value
}

// NewMapSource 创建内存特征来源
func NewMapSource(name string, rows map[string]map[string]core.Value) *MapSource {
	return &MapSource{name: name, rows: rows}
}

func (s *MapSource) Name() string { return s.name }

func (s *MapSource) Fetch(_ context.Context, ids []string) (map[string]map[string]core.Value, error) {
	if ids == nil {
		return s.rows, nil
	}
	out := make(map[string]map[string]core.Value, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

// StoreSource 将 core.Store 适配为 Source，采用适配器模式。
// 每个实体一条 key（KeyPrefix + id），value 是 JSON 对象：字段名 -> 标量 / 列表。
type StoreSource struct {
	store     core.Store
	keyPrefix string
	codec     *RowCodec
	batchSize int
}

// StoreSourceOption 配置 StoreSource
type StoreSourceOption func(*StoreSource)

// WithKeyPrefix 设置 key 前缀，例如 "item:features:"
func WithKeyPrefix(prefix string) StoreSourceOption {
	return func(s *StoreSource) { s.keyPrefix = prefix }
}

// WithBatchSize 设置单次 BatchGet 的 key 数
func WithBatchSize(n int) StoreSourceOption {
	return func(s *StoreSource) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewStoreSource 创建基于 Store 的特征来源，fields 决定 JSON 行的解码方式
func NewStoreSource(store core.Store, fields []*schema.Field, opts ...StoreSourceOption) *StoreSource {
	s := &StoreSource{
		store:     store,
		codec:     NewRowCodec(fields),
		batchSize: 500,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StoreSource) Name() string {
	return fmt.Sprintf("store.%s", s.store.Name())
}

func (s *StoreSource) Fetch(ctx context.Context, ids []string) (map[string]map[string]core.Value, error) {
	result := make(map[string]map[string]core.Value, len(ids))
	for start := 0; start < len(ids); start += s.batchSize {
		end := min(start+s.batchSize, len(ids))

		keys := make([]string, 0, end-start)
		keyToID := make(map[string]string, end-start)
		for _, id := range ids[start:end] {
			key := s.keyPrefix + id
			keys = append(keys, key)
			keyToID[key] = id
		}

		dataMap, err := s.store.BatchGet(ctx, keys)
		if err != nil {
			return nil, err
		}
		for key, data := range dataMap {
			id := keyToID[key]
			row, err := s.codec.Decode(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			result[id] = row
		}
	}
	return result, nil
}

// RowCodec 按 schema 字段在 JSON 行与取值之间转换
type RowCodec struct {
	fields []*schema.Field
}

// NewRowCodec 创建编解码器
func NewRowCodec(fields []*schema.Field) *RowCodec {
	return &RowCodec{fields: fields}
}

// Decode 解析 JSON 行。未知 key 被忽略；行中缺失的字段不出现在结果中。
func (c *RowCodec) Decode(data []byte) (map[string]core.Value, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	row := make(map[string]core.Value, len(c.fields))
	for _, f := range c.fields {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			continue
		}
		val, err := DecodeValue(f, v)
		if err != nil {
			return nil, err
		}
		row[f.Name] = val
	}
	return row, nil
}

// Encode 将取值编码为 JSON 行，与 Decode 对称
func (c *RowCodec) Encode(row map[string]core.Value) ([]byte, error) {
	raw := make(map[string]any, len(row))
	for _, f := range c.fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		switch {
		case f.Type == schema.TypeToken && !f.IsList:
			raw[f.Name] = v.Token()
		case f.Type == schema.TypeToken:
			raw[f.Name] = v.Tokens
		case !f.IsList && len(v.Floats) == 1:
			raw[f.Name] = v.Floats[0]
		default:
			raw[f.Name] = v.Floats
		}
	}
	return json.Marshal(raw)
}

// DecodeValue 按字段类型转换 JSON / SDK 解码得到的取值
func DecodeValue(f *schema.Field, v any) (core.Value, error) {
	switch {
	case f.Type == schema.TypeToken && !f.IsList:
		s, ok := conv.ToString(v)
		if !ok {
			return core.Value{}, core.NewTypeMismatchError(core.ModuleFeature, f.Name, fmt.Sprintf("want token, got %T", v))
		}
		return core.TokenValue(s), nil
	case f.Type == schema.TypeToken:
		switch v.(type) {
		case []any, []string:
			return core.TokensValue(conv.SliceAnyToString(v)...), nil
		default:
			return core.Value{}, core.NewTypeMismatchError(core.ModuleFeature, f.Name, fmt.Sprintf("want token list, got %T", v))
		}
	case !f.IsList:
		if fv, ok := conv.ToFloat64(v); ok {
			return core.FloatValue(float32(fv)), nil
		}
		if vec, ok := conv.ToFloat32Slice(v); ok {
			return core.VectorValue(vec), nil
		}
		return core.Value{}, core.NewTypeMismatchError(core.ModuleFeature, f.Name, fmt.Sprintf("want float, got %T", v))
	default:
		vec, ok := conv.ToFloat32Slice(v)
		if !ok {
			return core.Value{}, core.NewTypeMismatchError(core.ModuleFeature, f.Name, fmt.Sprintf("want float list, got %T", v))
		}
		return core.VectorValue(vec), nil
	}
}
