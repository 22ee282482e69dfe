// Package feast 从 Feast Feature Store 的在线存储读取预计算的用户 / 物品特征。
//
// Feast 中已物化的 embedding、类别特征按实体键（user_id / item_id）读取，
// 通过 Source 适配为 feature.Source，在流水线启动时一次性构建特征表。
//
// 参考：https://github.com/feast-dev/feast
package feast

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Client 是 Feast 在线特征读取的客户端接口。
// 领域层只依赖此接口，GrpcClient 基于官方 Go SDK 实现。
type Client interface {
	// GetOnlineFeatures 获取在线特征
	//
	// 参数：
	//   - Features: 特征引用列表，例如 ["item_view:item_emb", "item_view:category"]
	//   - EntityRows: 实体行，例如 [{"item_id": "i1001"}]
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)

	// Close 关闭客户端连接
	Close() error
}

// GetOnlineFeaturesRequest 获取在线特征请求
type GetOnlineFeaturesRequest struct {
	Features   []string
	EntityRows []map[string]any
	// Project 项目名称（可选，默认使用客户端的项目）
	Project string
}

// GetOnlineFeaturesResponse 获取在线特征响应，FeatureVectors 与 EntityRows 一一对应
type GetOnlineFeaturesResponse struct {
	FeatureVectors []FeatureVector
}

// FeatureVector 一个实体行的特征取值。
// Values 的 key 为特征引用，value 为 string / float64 / bool / []string / []float32 等已解包的取值；
// 在线存储中缺失的特征不出现在 Values 中。
type FeatureVector struct {
	Values    map[string]any
	EntityRow map[string]any
}

// ClientOption Feast 客户端配置选项
type ClientOption func(*ClientConfig)

// ClientConfig Feast 客户端配置
type ClientConfig struct {
	Endpoint string
	Project  string
	Timeout  time.Duration
	Auth     *AuthConfig
}

// AuthConfig 认证配置。Type 目前支持 static（gRPC 静态 Token）
type AuthConfig struct {
	Type      string
	Token     string
	EnableTLS bool
}

// WithTimeout 设置单次请求超时
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithAuth 设置认证信息
func WithAuth(auth *AuthConfig) ClientOption {
	return func(c *ClientConfig) {
		c.Auth = auth
	}
}

// NewClient 按 endpoint（"host:port" 或 "grpc://host:port"）创建 gRPC 客户端
func NewClient(endpoint, project string, opts ...ClientOption) (Client, error) {
	host, port := ParseEndpoint(endpoint)
	return NewGrpcClient(host, port, project, opts...)
}

// ParseEndpoint 解析端点地址，返回 host 和 port（缺省为 0）
func ParseEndpoint(endpoint string) (string, int) {
	endpoint = strings.TrimPrefix(endpoint, "grpc://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	host, portStr, ok := strings.Cut(endpoint, ":")
	if ok {
		if port, err := strconv.Atoi(portStr); err == nil {
			return host, port
		}
	}
	return endpoint, 0
}
