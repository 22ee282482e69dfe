// Package feature 将用户级、物品级特征拼接到交互记录上。
//
// 特征表（Table）在流水线启动时从 Source 一次性加载，之后只读；
// Joiner 持有 schema 与两张特征表，对交互做纯函数式的拼接，不改变记录顺序。
package feature

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/seqkit/core"
)

// Table 是只读的实体特征表：实体 ID -> 字段名 -> 取值
type Table struct {
	name string
	rows map[string]map[string]core.Value
}

// NewTable 用已解析的行构建特征表，rows 之后不应再被修改
func NewTable(name string, rows map[string]map[string]core.Value) *Table {
	if rows == nil {
		rows = make(map[string]map[string]core.Value)
	}
	return &Table{name: name, rows: rows}
}

// LoadTable 从 Source 批量读取给定实体的特征并构建特征表。
// Source 中不存在的实体不会出现在表中，由 Joiner 按缺失策略处理。
func LoadTable(ctx context.Context, name string, src Source, ids []string) (*Table, error) {
	rows, err := src.Fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load %s table from %s: %w", name, src.Name(), err)
	}
	return NewTable(name, rows), nil
}

// Name 返回表名（user / item）
func (t *Table) Name() string { return t.name }

// Len 返回实体数
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Lookup 查找实体的特征行
func (t *Table) Lookup(id string) (map[string]core.Value, bool) {
	if t == nil {
		return nil, false
	}
	row, ok := t.rows[id]
	return row, ok
}

// IDs 返回全部实体 ID（排序后）
func (t *Table) IDs() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
