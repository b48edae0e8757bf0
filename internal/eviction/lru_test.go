package eviction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUOrder(t *testing.T) {
	l := NewLRU()
	for _, k := range []string{"a", "b", "c"} {
		l.Touch(k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, l.Keys())

	// 访问a后，b成为淘汰对象
	l.Touch("a")
	victim, ok := l.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", victim)
	assert.Equal(t, []string{"b", "c", "a"}, l.Keys())

	assert.True(t, l.Remove("b"))
	assert.False(t, l.Remove("b"))
	victim, _ = l.Victim()
	assert.Equal(t, "c", victim)
	assert.Equal(t, 2, l.Len())
}

func TestLRUClear(t *testing.T) {
	var p Policy = NewLRU()
	p.Touch("x")
	p.Clear()
	_, ok := p.Victim()
	assert.False(t, ok)
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Keys())
}
