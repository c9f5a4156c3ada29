package textfsm

import "strings"

// Field 记录中的单个字段值
type Field struct {
	Name  string
	List  bool
	Value string   // 标量字段的值
	Items []string // List 字段的值，始终非 nil
}

// IsEmpty 字段是否未被赋值
func (f Field) IsEmpty() bool {
	if f.List {
		return len(f.Items) == 0
	}
	return f.Value == ""
}

// String 标量返回原值，List 以逗号连接
func (f Field) String() string {
	if f.List {
		return strings.Join(f.Items, ",")
	}
	return f.Value
}

// Record 一条已发射的记录，字段顺序与模板 Value 声明顺序一致
type Record []Field

// Get 按字段名取值
func (r Record) Get(name string) (Field, bool) {
	for _, f := range r {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Scalar 返回标量字段值，字段不存在时返回空串
func (r Record) Scalar(name string) string {
	f, _ := r.Get(name)
	return f.Value
}

// Items 返回 List 字段的副本
func (r Record) Items(name string) []string {
	f, ok := r.Get(name)
	if !ok || !f.List {
		return nil
	}
	return append([]string{}, f.Items...)
}

// Strings 按列顺序返回字符串形式，便于写入表格
func (r Record) Strings() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.String()
	}
	return out
}

// Map 以字段名为键；标量为 string，List 为 []string（不为 nil）
func (r Record) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r))
	for _, f := range r {
		if f.List {
			items := make([]string, len(f.Items))
			copy(items, f.Items)
			m[f.Name] = items
			continue
		}
		m[f.Name] = f.Value
	}
	return m
}
