package config

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/feature"
	"github.com/rushteam/seqkit/pkg/conv"
	"github.com/rushteam/seqkit/schema"
	"github.com/rushteam/seqkit/table"
)

// 内置来源类型（file、memory、redis、feast）在本包 init 中注册；
// 自定义来源在入口处调用 Register 即可被配置驱动。

// BuildEnv 是构建特征来源时可用的上下文
type BuildEnv struct {
	Config *Config
	Schema *schema.Schema
	// Origin 来源表：user 或 item
	Origin schema.Source
	// IDField 实体 ID 列名（USER_ID_FIELD / ITEM_ID_FIELD）
	IDField string
	// Frame 已读取的原子文件（.user / .item），不存在时为 nil
	Frame  *table.Frame
	Logger zerolog.Logger
}

// Fields 返回该来源需要提供的特征字段
func (e BuildEnv) Fields() []*schema.Field {
	return e.Schema.FeatureFields(e.Origin)
}

// SourceBuilder 根据配置构建特征来源。持有连接的来源同时实现 io.Closer。
type SourceBuilder func(ctx context.Context, params map[string]any, env BuildEnv) (feature.Source, error)

var (
	defaultBuilders   = make(map[string]SourceBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种来源类型的构建逻辑
func Register(typeName string, builder SourceBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// IsRegistered 判断来源类型是否已注册
func IsRegistered(typeName string) bool {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	_, ok := defaultBuilders[typeName]
	return ok
}

// SupportedTypes 返回当前已注册的来源类型列表（排序），用于错误提示与校验
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// BuildSource 按 params 中的 type（缺省为 file）构建来源
func BuildSource(ctx context.Context, params map[string]any, env BuildEnv) (feature.Source, error) {
	t := sourceType(params)
	defaultBuildersMu.RLock()
	builder, ok := defaultBuilders[t]
	defaultBuildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported source type %q (supported: %v)", t, SupportedTypes())
	}
	src, err := builder(ctx, params, env)
	if err != nil {
		return nil, fmt.Errorf("build %s source %s: %w", env.Origin, t, err)
	}
	return src, nil
}

// SourceParams 返回来源表的配置，未配置时为 nil（使用原子文件）
func (c *Config) SourceParams(origin schema.Source) map[string]any {
	if origin == schema.SourceUser {
		return c.Sources.User
	}
	return c.Sources.Item
}

// UsesFile 判断来源表是否从原子文件读取
func (c *Config) UsesFile(origin schema.Source) bool {
	return sourceType(c.SourceParams(origin)) == SourceFile
}

func sourceType(params map[string]any) string {
	return conv.ConfigGet(params, "type", SourceFile)
}

// closingSource 把来源与其底层连接绑定，Close 时释放连接
type closingSource struct {
	feature.Source
	closer io.Closer
}

func (s *closingSource) Close() error { return s.closer.Close() }
