package cache

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Humphrey-He/hguard/pkg/errors"
)

// snapshotVersion 快照格式版本
const snapshotVersion = 1

// snapshotDocument 快照文件的内容
type snapshotDocument struct {
	Version int              `json:"version"`
	Cache   string           `json:"cache"`
	Codec   string           `json:"codec"`
	SavedAt time.Time        `json:"saved_at"`
	Entries []snapshotRecord `json:"entries"`
}

// snapshotRecord 一个条目的持久化形式，值由存储的编解码器编码
type snapshotRecord struct {
	Key         string        `json:"key"`
	Value       []byte        `json:"value"`
	CreatedAt   time.Time     `json:"created_at"`
	AccessedAt  time.Time     `json:"accessed_at"`
	AccessCount uint64        `json:"access_count"`
	TTL         time.Duration `json:"ttl"`
	SizeBytes   int64         `json:"size_bytes"`
}

// SaveSnapshot writes every live entry to path, or to the configured SnapshotPath
// when path is empty. The file is replaced atomically.
//
// SaveSnapshot 将所有有效条目写入path，path为空时写入配置的SnapshotPath。文件以原子方式替换。
//
// Parameters:
//   - path: Destination file
//
// Returns:
//   - error: An error if encoding or writing fails
func (s *Store[V]) SaveSnapshot(path string) error {
	path, err := s.snapshotPath(path)
	if err != nil {
		return err
	}

	doc, err := s.buildSnapshot()
	if err != nil {
		return err
	}
	data, err := sonic.ConfigStd.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	s.logger.Info("cache snapshot saved", "path", path, "entries", len(doc.Entries))
	return nil
}

// buildSnapshot 在锁内收集有效条目，按访问时间从旧到新排列
func (s *Store[V]) buildSnapshot() (*snapshotDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	doc := &snapshotDocument{
		Version: snapshotVersion,
		Cache:   s.config.Name,
		Codec:   s.codec.Name(),
		SavedAt: now,
		Entries: make([]snapshotRecord, 0, len(s.items)),
	}
	for _, key := range s.lru.Keys() {
		e := s.items[key]
		if e.expired(now) {
			continue
		}
		value, err := s.codec.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot entry %q: %w", key, err)
		}
		doc.Entries = append(doc.Entries, snapshotRecord{
			Key:         key,
			Value:       value,
			CreatedAt:   e.createdAt,
			AccessedAt:  e.accessedAt,
			AccessCount: e.accessCount,
			TTL:         e.ttl,
			SizeBytes:   e.size,
		})
	}
	return doc, nil
}

// LoadSnapshot restores entries from path, or from the configured SnapshotPath
// when path is empty. A missing file restores nothing and is not an error.
// Entries already expired, oversized or undecodable are skipped.
//
// LoadSnapshot 从path恢复条目，path为空时使用配置的SnapshotPath。
// 文件不存在时不恢复任何条目且不报错。已过期、过大或无法解码的条目会被跳过。
//
// Parameters:
//   - path: Source file
//
// Returns:
//   - int: Number of restored entries
//   - error: An error if the file cannot be read or is not a snapshot
func (s *Store[V]) LoadSnapshot(path string) (int, error) {
	path, err := s.snapshotPath(path)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no cache snapshot found", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDocument
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errors.ErrSnapshotCorrupt, path, err)
	}

	sort.SliceStable(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].AccessedAt.Before(doc.Entries[j].AccessedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	restored, skipped := 0, 0
	for _, rec := range doc.Entries {
		e, err := s.decodeRecord(rec, now)
		if err != nil {
			skipped++
			s.logger.Warn("skip snapshot entry", "key", rec.Key, "error", err)
			continue
		}
		if e == nil {
			skipped++
			continue
		}
		s.insertLocked(rec.Key, e)
		restored++
	}

	s.logger.Info("cache snapshot loaded", "path", path, "restored", restored, "skipped", skipped)
	return restored, nil
}

// decodeRecord 将记录还原为条目，过期条目返回nil
func (s *Store[V]) decodeRecord(rec snapshotRecord, now time.Time) (*entry[V], error) {
	if rec.Key == "" {
		return nil, fmt.Errorf("%w: empty key", errors.ErrSnapshotCorrupt)
	}
	e := &entry[V]{
		createdAt:   rec.CreatedAt,
		accessedAt:  rec.AccessedAt,
		accessCount: rec.AccessCount,
		ttl:         rec.TTL,
		size:        rec.SizeBytes,
	}
	if e.ttl < 0 {
		e.ttl = 0
	}
	if e.expired(now) {
		return nil, nil
	}
	if err := s.codec.Unmarshal(rec.Value, &e.value); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrSnapshotCorrupt, err)
	}
	if e.size <= 0 {
		e.size = int64(len(rec.Value))
	}
	if err := s.checkSize(e.size); err != nil {
		return nil, err
	}
	return e, nil
}

// snapshotPath 解析快照路径
func (s *Store[V]) snapshotPath(path string) (string, error) {
	if path == "" {
		path = s.config.SnapshotPath
	}
	if path == "" {
		return "", fmt.Errorf("cache %s: no snapshot path configured", s.config.Name)
	}
	return path, nil
}

// writeFileAtomic 先写临时文件再重命名
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
