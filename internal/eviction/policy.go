// Package eviction provides the replacement ordering used by the cache store.
// Package eviction 提供缓存存储使用的淘汰顺序。
//
// Policies only track key order. They hold no values and take no locks;
// the owning store serialises every call under its own mutex.
//
// 策略只跟踪键的顺序，不保存值也不加锁；
// 由所属的存储在自己的互斥锁下串行调用。
package eviction

// Policy defines the interface for an eviction ordering.
// Policy 定义淘汰顺序接口。
type Policy interface {
	// Touch records an access to key, inserting it if absent.
	//
	// Touch 记录对键的一次访问，不存在时插入。
	Touch(key string)

	// Remove drops key from the ordering.
	// Returns false if the key was not tracked.
	//
	// Remove 从顺序中移除键。
	// 键不存在时返回false。
	Remove(key string) bool

	// Victim returns the next key to evict without removing it.
	//
	// Victim 返回下一个应被淘汰的键，但不移除它。
	//
	// Returns:
	//   - string: The victim key
	//   - bool: False if the policy is empty
	Victim() (string, bool)

	// Len returns the number of tracked keys.
	// Len 返回跟踪的键数量。
	Len() int

	// Keys returns every tracked key, next victim first.
	// Keys 返回所有键，下一个淘汰对象在前。
	Keys() []string

	// Clear removes all keys.
	// Clear 清空所有键。
	Clear()
}

var _ Policy = (*LRU)(nil)
