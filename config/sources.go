package config

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/feast"
	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/pkg/conv"
	"github.com/rushteam/seqkit/store"
)

// 内置来源类型
const (
	SourceFile   = "file"
	SourceMemory = "memory"
	SourceRedis  = "redis"
	SourceFeast  = "feast"
)

func init() {
	Register(SourceFile, BuildFileSource)
	Register(SourceMemory, BuildMemorySource)
	Register(SourceRedis, BuildRedisSource)
	Register(SourceFeast, BuildFeastSource)
}

// BuildFileSource 使用已读取的 .user / .item 原子文件
func BuildFileSource(_ context.Context, _ map[string]any, env BuildEnv) (feature.Source, error) {
	if env.Frame == nil {
		return nil, fmt.Errorf("atomic %s file not loaded", env.Origin)
	}
	rows, err := env.Frame.Entities(env.Schema, env.IDField)
	if err != nil {
		return nil, err
	}
	return feature.NewMapSource(string(env.Origin)+".file", rows), nil
}

// BuildMemorySource 把配置中内联的 rows（id -> 字段 -> 取值）写入 MemoryStore，再经 StoreSource 读取。
//
//	sources:
//	  item:
//	    type: memory
//	    rows:
//	      i1: {category: [a, b], price: 9.9}
func BuildMemorySource(ctx context.Context, params map[string]any, env BuildEnv) (feature.Source, error) {
	rows, _ := params["rows"].(map[string]any)
	fields := env.Fields()
	codec := feature.NewRowCodec(fields)
	kvs := make(map[string][]byte, len(rows))
	for id, raw := range rows {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %q must be a map, got %T", id, raw)
		}
		row := make(map[string]core.Value, len(fields))
		for _, f := range fields {
			v, ok := m[f.Name]
			if !ok {
				continue
			}
			val, err := feature.DecodeValue(f, v)
			if err != nil {
				return nil, fmt.Errorf("row %q: %w", id, err)
			}
			row[f.Name] = val
		}
		data, err := codec.Encode(row)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", id, err)
		}
		kvs[id] = data
	}

	ms := store.NewMemoryStore()
	if err := ms.BatchSet(ctx, kvs); err != nil {
		return nil, err
	}
	src := feature.NewStoreSource(ms, env.Fields())
	return &closingSource{Source: src, closer: ms}, nil
}

// BuildRedisSource 从 Redis 读取 JSON 编码的实体行，key 为 key_prefix + id
func BuildRedisSource(_ context.Context, params map[string]any, env BuildEnv) (feature.Source, error) {
	cfg := store.RedisConfig{
		Addr:     conv.ConfigGet(params, "addr", ""),
		Password: conv.ConfigGet(params, "password", ""),
		DB:       int(conv.ConfigGetInt64(params, "db", 0)),
	}
	if ms := conv.ConfigGetInt64(params, "timeout_ms", 0); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	rs, err := store.NewRedisStore(cfg)
	if err != nil {
		return nil, err
	}

	var opts []feature.StoreSourceOption
	if prefix := conv.ConfigGet(params, "key_prefix", ""); prefix != "" {
		opts = append(opts, feature.WithKeyPrefix(prefix))
	}
	if n := conv.ConfigGetInt64(params, "batch_size", 0); n > 0 {
		opts = append(opts, feature.WithBatchSize(int(n)))
	}
	env.Logger.Info().Str("addr", cfg.Addr).Str("origin", string(env.Origin)).Msg("config: redis feature source connected")
	return &closingSource{Source: feature.NewStoreSource(rs, env.Fields(), opts...), closer: rs}, nil
}

// BuildFeastSource 从 Feast 在线特征服务读取
//
//	sources:
//	  item:
//	    type: feast
//	    endpoint: localhost:6565
//	    project: recsys
//	    feature_view: item_features
//	    entity_key: item_id
//	    refs: {item_emb: item_features:embedding}
func BuildFeastSource(_ context.Context, params map[string]any, env BuildEnv) (feature.Source, error) {
	endpoint := conv.ConfigGet(params, "endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("feast endpoint is required")
	}
	var opts []feast.ClientOption
	if ms := conv.ConfigGetInt64(params, "timeout_ms", 0); ms > 0 {
		opts = append(opts, feast.WithTimeout(time.Duration(ms)*time.Millisecond))
	}
	if tok := conv.ConfigGet(params, "token", ""); tok != "" || conv.ConfigGet(params, "tls", false) {
		opts = append(opts, feast.WithAuth(&feast.AuthConfig{Type: "static", Token: tok, EnableTLS: conv.ConfigGet(params, "tls", false)}))
	}
	client, err := feast.NewClient(endpoint, conv.ConfigGet(params, "project", ""), opts...)
	if err != nil {
		return nil, err
	}

	var srcOpts []feast.SourceOption
	if view := conv.ConfigGet(params, "feature_view", ""); view != "" {
		srcOpts = append(srcOpts, feast.WithFeatureView(view))
	}
	if refs := conv.ConfigGetStringMap(params, "refs"); len(refs) > 0 {
		srcOpts = append(srcOpts, feast.WithRefs(refs))
	}
	if n := conv.ConfigGetInt64(params, "batch_size", 0); n > 0 {
		srcOpts = append(srcOpts, feast.WithBatchSize(int(n)))
	}
	src, err := feast.NewSource(client, conv.ConfigGet(params, "entity_key", env.IDField), env.Fields(), srcOpts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &closingSource{Source: src, closer: client}, nil
}
