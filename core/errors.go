package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message），以及出错的字段 / 实体标识
//   - 支持 errors.Is（按 Code 匹配哨兵错误）与检查函数（IsXXX）
//
// 错误分类：
//   - schema 错误：UNKNOWN_FIELD, TYPE_MISMATCH（致命，数据处理前中止）
//   - 维度错误：DIMENSION_MISMATCH（致命，说明上游数据损坏）
//   - join 错误：MISSING_ENTITY（按策略丢弃 / 填充默认值 / 中止）
//   - 单元错误：INSUFFICIENT_HISTORY, INSUFFICIENT_CANDIDATES（跳过该单元并计数）
type DomainError struct {
	Code    string // 错误代码（如 "UNKNOWN_FIELD", "DIMENSION_MISMATCH"）
	Message string // 错误消息
	Module  string // 模块名称（如 "schema", "feature", "split"）
	Field   string // 相关字段名（可选）
	Entity  string // 相关实体标识，例如 user_id / item_id（可选）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 让 errors.Is(err, core.ErrDimensionMismatch) 按错误代码匹配。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Module != "" && t.Module != e.Module {
		return false
	}
	return t.Code == e.Code
}

// IsDomainError 检查错误链中是否有 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound               = "NOT_FOUND"               // 资源不存在
	ErrorCodeNotSupported           = "NOT_SUPPORTED"           // 操作不支持
	ErrorCodeInvalidInput           = "INVALID_INPUT"           // 输入无效
	ErrorCodeUnknownField           = "UNKNOWN_FIELD"           // 字段未声明
	ErrorCodeTypeMismatch           = "TYPE_MISMATCH"           // 字段类型冲突
	ErrorCodeDimensionMismatch      = "DIMENSION_MISMATCH"      // 向量长度与声明不一致
	ErrorCodeMissingEntity          = "MISSING_ENTITY"          // 用户 / 物品表中缺少实体
	ErrorCodeInsufficientHistory    = "INSUFFICIENT_HISTORY"    // 用户历史不足以满足划分要求
	ErrorCodeInsufficientCandidates = "INSUFFICIENT_CANDIDATES" // 负采样候选不足
)

// 模块名称常量
const (
	ModuleSchema   = "schema"
	ModuleTable    = "table"
	ModuleFeature  = "feature"
	ModuleStore    = "store"
	ModuleSequence = "sequence"
	ModuleSplit    = "split"
	ModuleSampler  = "sampler"
	ModuleEval     = "eval"
)

// 哨兵错误，仅用于 errors.Is 比较（不限定模块）
var (
	ErrUnknownField           = &DomainError{Code: ErrorCodeUnknownField, Message: "unknown field"}
	ErrTypeMismatch           = &DomainError{Code: ErrorCodeTypeMismatch, Message: "field type mismatch"}
	ErrDimensionMismatch      = &DomainError{Code: ErrorCodeDimensionMismatch, Message: "dimension mismatch"}
	ErrMissingEntity          = &DomainError{Code: ErrorCodeMissingEntity, Message: "missing entity"}
	ErrInsufficientHistory    = &DomainError{Code: ErrorCodeInsufficientHistory, Message: "insufficient history"}
	ErrInsufficientCandidates = &DomainError{Code: ErrorCodeInsufficientCandidates, Message: "insufficient candidates"}
	ErrInvalidInput           = &DomainError{Code: ErrorCodeInvalidInput, Message: "invalid input"}
)

// NewUnknownFieldError 字段引用了 schema 中不存在的名字
func NewUnknownFieldError(module, field, context string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    ErrorCodeUnknownField,
		Field:   field,
		Message: fmt.Sprintf("%s: unknown field %q referenced by %s", module, field, context),
	}
}

// NewTypeMismatchError 同名字段的声明类型冲突
func NewTypeMismatchError(module, field, detail string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    ErrorCodeTypeMismatch,
		Field:   field,
		Message: fmt.Sprintf("%s: field %q type mismatch: %s", module, field, detail),
	}
}

// NewDimensionMismatchError 向量长度与声明的 dim 不一致
func NewDimensionMismatchError(module, field, entity string, want, got int) *DomainError {
	msg := fmt.Sprintf("%s: field %q dimension mismatch: declared %d, got %d", module, field, want, got)
	if entity != "" {
		msg = fmt.Sprintf("%s (entity %s)", msg, entity)
	}
	return &DomainError{
		Module:  module,
		Code:    ErrorCodeDimensionMismatch,
		Field:   field,
		Entity:  entity,
		Message: msg,
	}
}

// NewMissingEntityError 用户 / 物品表中找不到实体
func NewMissingEntityError(table, entity string) *DomainError {
	return &DomainError{
		Module:  ModuleFeature,
		Code:    ErrorCodeMissingEntity,
		Field:   table,
		Entity:  entity,
		Message: fmt.Sprintf("feature: entity %q missing from %s table", entity, table),
	}
}

// NewInsufficientHistoryError 用户历史不足以满足最小划分长度
func NewInsufficientHistoryError(userID string, have, need int) *DomainError {
	return &DomainError{
		Module:  ModuleSplit,
		Code:    ErrorCodeInsufficientHistory,
		Entity:  userID,
		Message: fmt.Sprintf("split: user %q has %d interactions, needs %d", userID, have, need),
	}
}

// NewInsufficientCandidatesError 可采样的负样本少于 k
func NewInsufficientCandidatesError(userID string, have, need int) *DomainError {
	return &DomainError{
		Module:  ModuleSampler,
		Code:    ErrorCodeInsufficientCandidates,
		Entity:  userID,
		Message: fmt.Sprintf("sampler: user %q has %d candidates, needs %d", userID, have, need),
	}
}

// NewInvalidInputError 输入不合法（配置、数据格式等）
func NewInvalidInputError(module, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    ErrorCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", module, message),
	}
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsUnknownField 检查错误是否为 UNKNOWN_FIELD
func IsUnknownField(err error) bool { return hasCode(err, ErrorCodeUnknownField) }

// IsDimensionMismatch 检查错误是否为 DIMENSION_MISMATCH
func IsDimensionMismatch(err error) bool { return hasCode(err, ErrorCodeDimensionMismatch) }

// IsMissingEntity 检查错误是否为 MISSING_ENTITY
func IsMissingEntity(err error) bool { return hasCode(err, ErrorCodeMissingEntity) }

// IsInsufficientHistory 检查错误是否为 INSUFFICIENT_HISTORY
func IsInsufficientHistory(err error) bool { return hasCode(err, ErrorCodeInsufficientHistory) }

// IsInsufficientCandidates 检查错误是否为 INSUFFICIENT_CANDIDATES
func IsInsufficientCandidates(err error) bool { return hasCode(err, ErrorCodeInsufficientCandidates) }

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsSchemaError 检查错误是否属于 schema 类错误
func IsSchemaError(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleSchema
}

// IsFatal 判断错误是否必须中止整个运行。
// schema 错误与维度错误检测成本低、忽略代价高，一律视为致命；
// 单元级错误（历史不足、候选不足）由调用方跳过并计数。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	domainErr := GetDomainError(err)
	if domainErr == nil {
		return true
	}
	switch domainErr.Code {
	case ErrorCodeInsufficientHistory, ErrorCodeInsufficientCandidates:
		return false
	default:
		return true
	}
}
