package feast

import (
	"context"
	"fmt"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/schema"
)

// Source 将 Feast 在线存储适配为 feature.Source。
//
// Refs 把 schema 字段名映射到 Feast 特征引用，例如 item_emb -> "item_view:item_emb"；
// 未配置映射的字段按 "<FeatureView>:<字段名>" 推导。
type Source struct {
	client      Client
	entityKey   string
	featureView string
	refs        map[string]string
	fields      []*schema.Field
	batchSize   int
}

// SourceOption 配置 Source
type SourceOption func(*Source)

// WithFeatureView 设置默认特征视图
func WithFeatureView(view string) SourceOption {
	return func(s *Source) { s.featureView = view }
}

// WithRefs 设置字段到特征引用的映射
func WithRefs(refs map[string]string) SourceOption {
	return func(s *Source) {
		for k, v := range refs {
			s.refs[k] = v
		}
	}
}

// WithBatchSize 设置单次请求的实体数
func WithBatchSize(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSource 创建 Feast 特征来源。entityKey 是 Feast 中的实体列名（如 item_id）。
func NewSource(client Client, entityKey string, fields []*schema.Field, opts ...SourceOption) (*Source, error) {
	s := &Source{
		client:    client,
		entityKey: entityKey,
		refs:      make(map[string]string),
		fields:    fields,
		batchSize: 200,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, f := range fields {
		if _, ok := s.refs[f.Name]; ok {
			continue
		}
		if s.featureView == "" {
			return nil, core.NewInvalidInputError(core.ModuleFeature,
				fmt.Sprintf("feast source: no feature ref for field %q and no feature_view set", f.Name))
		}
		s.refs[f.Name] = s.featureView + ":" + f.Name
	}
	return s, nil
}

func (s *Source) Name() string { return "feast" }

// Fetch 批量读取实体特征。实体在 Feast 中没有任何特征取值时视为不存在。
func (s *Source) Fetch(ctx context.Context, ids []string) (map[string]map[string]core.Value, error) {
	refs := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		refs = append(refs, s.refs[f.Name])
	}

	result := make(map[string]map[string]core.Value, len(ids))
	if len(refs) == 0 {
		return result, nil
	}
	for start := 0; start < len(ids); start += s.batchSize {
		batch := ids[start:min(start+s.batchSize, len(ids))]
		rows := make([]map[string]any, len(batch))
		for i, id := range batch {
			rows[i] = map[string]any{s.entityKey: id}
		}

		resp, err := s.client.GetOnlineFeatures(ctx, &GetOnlineFeaturesRequest{Features: refs, EntityRows: rows})
		if err != nil {
			return nil, err
		}
		if len(resp.FeatureVectors) != len(batch) {
			return nil, fmt.Errorf("feast returned %d rows for %d entities", len(resp.FeatureVectors), len(batch))
		}

		for i, fv := range resp.FeatureVectors {
			if len(fv.Values) == 0 {
				continue
			}
			row := make(map[string]core.Value, len(s.fields))
			for _, f := range s.fields {
				v, ok := fv.Values[s.refs[f.Name]]
				if !ok {
					continue
				}
				val, err := feature.DecodeValue(f, v)
				if err != nil {
					return nil, fmt.Errorf("entity %s: %w", batch[i], err)
				}
				row[f.Name] = val
			}
			result[batch[i]] = row
		}
	}
	return result, nil
}

var _ feature.Source = (*Source)(nil)
