// Package dsl 提供基于 CEL (Common Expression Language) 的交互记录过滤表达式。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/seqkit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("item_id", cel.StringType),
		cel.Variable("timestamp", cel.DoubleType),
		cel.Variable("rating", cel.DoubleType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Filter 是编译好的过滤表达式，可被多个 goroutine 并发调用。
//
// 表达式语法（CEL 标准语法）：
//   - 身份字段：user_id == "u1" / item_id != "i9"
//   - 数值：rating >= 3.0 / timestamp < 1700000000.0
//   - 交互级字段：fields.device == "ios"，token_seq 与 float_seq 为列表
//   - 存在性：has(fields.device)
//   - 逻辑：rating >= 3.0 && has(fields.device)
//
// 注意：访问不存在的 fields 键会返回错误，先用 has() 判断。
type Filter struct {
	expr  string
	prg   cel.Program
	lists map[string]struct{}
}

// Option 配置 Filter
type Option func(*Filter)

// WithListFields 声明多值字段（token_seq / float_seq），这些字段总是以列表传入表达式
func WithListFields(names ...string) Option {
	return func(f *Filter) {
		for _, n := range names {
			f.lists[n] = struct{}{}
		}
	}
}

// Compile 编译表达式。表达式必须返回 bool。
func Compile(expr string, opts ...Option) (*Filter, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	f := &Filter{expr: expr, prg: prg, lists: make(map[string]struct{})}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// String 返回原始表达式
func (f *Filter) String() string { return f.expr }

// Match 判断交互是否保留
func (f *Filter) Match(in core.Interaction) (bool, error) {
	out, _, err := f.prg.Eval(f.buildInput(in))
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// buildInput 构建 CEL 表达式的输入数据
func (f *Filter) buildInput(in core.Interaction) map[string]any {
	fields := make(map[string]any, len(in.Fields))
	for name, v := range in.Fields {
		_, isList := f.lists[name]
		fields[name] = valueOf(v, isList)
	}
	return map[string]any{
		"user_id":   in.UserID,
		"item_id":   in.ItemID,
		"timestamp": in.Timestamp,
		"rating":    in.Rating,
		"fields":    fields,
	}
}

// valueOf 把字段取值转换为 CEL 原生类型：单值字段为标量，多值字段为列表
func valueOf(v core.Value, isList bool) any {
	if len(v.Floats) > 0 {
		if !isList && len(v.Floats) == 1 {
			return float64(v.Floats[0])
		}
		out := make([]float64, len(v.Floats))
		for i, x := range v.Floats {
			out[i] = float64(x)
		}
		return out
	}
	if !isList {
		if len(v.Tokens) == 1 {
			return v.Tokens[0]
		}
		if len(v.Tokens) == 0 {
			return nil
		}
	}
	if v.Tokens == nil {
		return []string{}
	}
	return v.Tokens
}
