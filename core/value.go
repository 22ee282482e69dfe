package core

import "slices"

// Value 是一个字段槽位的取值。
//   - token 字段：Tokens 长度为 1
//   - token_seq 字段：Tokens 为任意长度
//   - float / float_seq 字段：Floats 长度等于声明的 dim
//
// 取值在构建后视为只读。
type Value struct {
	Tokens []string  `json:"tokens,omitempty"`
	Floats []float32 `json:"floats,omitempty"`
}

// TokenValue 构造单个 token 取值
func TokenValue(tok string) Value {
	return Value{Tokens: []string{tok}}
}

// TokensValue 构造 token 列表取值
func TokensValue(toks ...string) Value {
	return Value{Tokens: toks}
}

// FloatValue 构造标量浮点取值（dim = 1）
func FloatValue(f float32) Value {
	return Value{Floats: []float32{f}}
}

// VectorValue 构造定长向量取值
func VectorValue(v []float32) Value {
	return Value{Floats: v}
}

// Token 返回第一个 token，不存在时返回空串
func (v Value) Token() string {
	if len(v.Tokens) == 0 {
		return ""
	}
	return v.Tokens[0]
}

// Dim 返回浮点向量长度
func (v Value) Dim() int {
	return len(v.Floats)
}

// IsZero 判断是否为空取值
func (v Value) IsZero() bool {
	return len(v.Tokens) == 0 && len(v.Floats) == 0
}

// Clone 深拷贝，避免下游修改共享底层数组
func (v Value) Clone() Value {
	return Value{
		Tokens: slices.Clone(v.Tokens),
		Floats: slices.Clone(v.Floats),
	}
}

// Equal 比较两个取值
func (v Value) Equal(o Value) bool {
	return slices.Equal(v.Tokens, o.Tokens) && slices.Equal(v.Floats, o.Floats)
}
