package eviction

import "container/list"

// LRU 最近最少使用顺序
// 链表头部是最近访问的键，尾部是下一个淘汰对象
type LRU struct {
	ll    *list.List
	items map[string]*list.Element
}

// NewLRU 创建LRU顺序
func NewLRU() *LRU {
	return &LRU{
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Touch 将键移到头部，不存在时插入
func (l *LRU) Touch(key string) {
	if elem, ok := l.items[key]; ok {
		l.ll.MoveToFront(elem)
		return
	}
	l.items[key] = l.ll.PushFront(key)
}

// Remove 移除键
func (l *LRU) Remove(key string) bool {
	elem, ok := l.items[key]
	if !ok {
		return false
	}
	l.ll.Remove(elem)
	delete(l.items, key)
	return true
}

// Victim 返回最久未访问的键
func (l *LRU) Victim() (string, bool) {
	elem := l.ll.Back()
	if elem == nil {
		return "", false
	}
	return elem.Value.(string), true
}

// Len 返回键数量
func (l *LRU) Len() int {
	return l.ll.Len()
}

// Keys 从最旧到最新返回所有键
func (l *LRU) Keys() []string {
	keys := make([]string, 0, l.ll.Len())
	for elem := l.ll.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// Clear 清空
func (l *LRU) Clear() {
	l.ll.Init()
	l.items = make(map[string]*list.Element)
}
