package core

// Interaction 是一条已解析的原始交互记录（user, item, timestamp, rating）
// 以及交互文件中出现的其它字段。
type Interaction struct {
	UserID    string
	ItemID    string
	Timestamp float64
	Rating    float64

	// Fields 是交互级字段（source = interaction），key 为字段名
	Fields map[string]Value
}

// Record 是经过特征拼接后的交互记录。
//
// Index 是该交互在输入中的原始位置，用于时间戳相同时的稳定排序。
// Features 包含解析后的全部特征槽位（交互级、用户级、物品级）。
// Record 构建后不可变，下游只读。
type Record struct {
	Index     int
	UserID    string
	ItemID    string
	Timestamp float64
	Rating    float64
	Features  map[string]Value
}

// Feature 读取特征槽位
func (r *Record) Feature(name string) (Value, bool) {
	if r == nil || r.Features == nil {
		return Value{}, false
	}
	v, ok := r.Features[name]
	return v, ok
}
