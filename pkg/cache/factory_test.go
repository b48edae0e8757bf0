package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromReaders(t *testing.T) {
	s, err := NewFromJSON[string](strings.NewReader(`{"name":"depth","max_entries":5,"default_ttl":1000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "depth", s.Name())
	assert.Equal(t, 5, s.MemoryUsage().MaxEntries)

	y, err := NewFromYAML[string](strings.NewReader("name: signals\nmax_entries: 7\ndefault_ttl: 2s\n"))
	require.NoError(t, err)
	assert.Equal(t, "signals", y.Name())

	_, err = NewFromJSON[string](strings.NewReader(`{"max_entry_ratio": 2}`))
	assert.Error(t, err)
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: tickers\ndefault_ttl: 45s\n"), 0o644))

	s, err := NewFromFile[int](path)
	require.NoError(t, err)
	assert.Equal(t, "tickers", s.Name())
	assert.True(t, s.Set("BTC/USDT", 1, 0))
	assert.Equal(t, 45*time.Second, s.config.DefaultTTL)

	_, err = NewFromFile[int](filepath.Join(dir, "cache.toml"))
	assert.Error(t, err)
}
