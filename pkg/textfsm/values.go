package textfsm

// valueStore 单次运行的字段存储，同时持有已发射的记录
type valueStore struct {
	values  []Value
	scalars []string
	lists   [][]string
	records []Record
}

func newValueStore(values []Value) *valueStore {
	s := &valueStore{
		values:  values,
		scalars: make([]string, len(values)),
		lists:   make([][]string, len(values)),
		records: make([]Record, 0),
	}
	for i, v := range values {
		if v.Has(List) {
			s.lists[i] = []string{}
		}
	}
	return s
}

// assign 按规则的子匹配位置写入字段；未参与匹配的分组不赋值
func (s *valueStore) assign(groups []int, line string, loc []int) {
	for g, idx := range groups {
		if idx < 0 || loc[2*g] < 0 {
			continue
		}
		val := line[loc[2*g]:loc[2*g+1]]
		v := s.values[idx]
		if v.Has(List) {
			s.lists[idx] = append(s.lists[idx], val)
			continue
		}
		s.scalars[idx] = val
		if v.Has(Fillup) && val != "" {
			s.fillup(idx, val)
		}
	}
}

// fillup 向前回填：从最近的记录开始，直到遇到该列已有值为止
func (s *valueStore) fillup(idx int, val string) {
	for i := len(s.records) - 1; i >= 0; i-- {
		f := &s.records[i][idx]
		if f.Value != "" {
			return
		}
		f.Value = val
	}
}

func (s *valueStore) empty(idx int) bool {
	if s.values[idx].Has(List) {
		return len(s.lists[idx]) == 0
	}
	return s.scalars[idx] == ""
}

// clear 清除非 Filldown 字段
func (s *valueStore) clear() {
	for i, v := range s.values {
		if v.Has(Filldown) {
			continue
		}
		s.reset(i)
	}
}

// clearAll 清除全部字段（包括 Filldown）
func (s *valueStore) clearAll() {
	for i := range s.values {
		s.reset(i)
	}
}

func (s *valueStore) reset(i int) {
	if s.values[i].Has(List) {
		s.lists[i] = []string{}
		return
	}
	s.scalars[i] = ""
}

// emit 将当前存储固化为一条记录。
// Required 字段为空时丢弃记录并清空存储；全部字段为空时不输出，也不清空。
func (s *valueStore) emit() {
	for i, v := range s.values {
		if v.Has(Required) && s.empty(i) {
			s.clear()
			return
		}
	}

	allEmpty := true
	for i := range s.values {
		if !s.empty(i) {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return
	}

	rec := make(Record, len(s.values))
	for i, v := range s.values {
		f := Field{Name: v.Name}
		if v.Has(List) {
			f.List = true
			f.Items = append(make([]string, 0, len(s.lists[i])), s.lists[i]...)
		} else {
			f.Value = s.scalars[i]
		}
		rec[i] = f
	}
	s.records = append(s.records, rec)
	s.clear()
}
