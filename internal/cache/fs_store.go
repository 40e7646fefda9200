package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".json"
	tempPrefix = ".cache-"
)

// NewFSStorage 以 basePath 为根目录构建磁盘缓存。磁盘布局：
//
//	<basePath>/<escaped cache name>/<sha256(key)>.body   # 正文
//	<basePath>/<escaped cache name>/<sha256(key)>.json   # 状态码、响应头与原始 Key
func NewFSStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsStorage{
		basePath: abs,
		locks:    make(map[string]*nameLock),
	}, nil
}

// fsStorage 通过 nameLock 串行化同一仓库的批量写入与删除。
type fsStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

type fsCache struct {
	storage *fsStorage
	name    string
	dir     string
}

type entryMeta struct {
	Key      Key                 `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	StoredAt time.Time           `json:"stored_at"`
}

func (s *fsStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		name, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fsStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fsStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return nil, err
	}
	unlock := s.lockName(name)
	defer unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fsCache{storage: s, name: name, dir: dir}, nil
}

func (s *fsStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	unlock := s.lockName(name)
	defer unlock()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	// 先改名再删除，避免删除过程中被 Keys 看到半个目录。
	trash, err := os.MkdirTemp(s.basePath, ".trash-")
	if err != nil {
		return false, err
	}
	if err := os.Rename(dir, filepath.Join(trash, "cache")); err != nil {
		os.RemoveAll(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fsStorage) Close() error {
	return nil
}

func (s *fsStorage) cacheDir(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	dir := filepath.Join(s.basePath, url.PathEscape(name))
	if filepath.Dir(dir) != s.basePath {
		return "", ErrInvalidName
	}
	return dir, nil
}

func (s *fsStorage) lockName(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &nameLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (c *fsCache) Name() string {
	return c.name
}

func (c *fsCache) Match(ctx context.Context, key Key) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	base := c.entryBase(key)
	rawMeta, err := os.ReadFile(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.Key != key {
		// 哈希碰撞或残留文件，按未命中处理。
		return nil, ErrNotFound
	}
	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Entry{
		Key:      meta.Key,
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

// PutAll 先把所有条目写入临时文件，再逐个 rename 生效；任一步失败都会
// 回滚已生效的文件并恢复被覆盖的旧条目。
func (c *fsCache) PutAll(ctx context.Context, entries []Entry) error {
	unlock := c.storage.lockName(c.name)
	defer unlock()

	if _, err := os.Stat(c.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrCacheDeleted
		}
		return err
	}

	staged := make([]stagedFile, 0, len(entries)*2)
	cleanup := func() {
		for _, f := range staged {
			os.Remove(f.temp)
		}
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		storedAt := entry.StoredAt
		if storedAt.IsZero() {
			storedAt = now
		}
		meta, err := json.Marshal(entryMeta{
			Key:      entry.Key,
			Status:   entry.Status,
			Header:   entry.Header,
			StoredAt: storedAt,
		})
		if err != nil {
			cleanup()
			return err
		}
		base := c.entryBase(entry.Key)
		for _, part := range []struct {
			target string
			data   []byte
		}{
			{base + bodySuffix, entry.Body},
			{base + metaSuffix, meta},
		} {
			temp, err := writeTemp(c.dir, part.data)
			if err != nil {
				cleanup()
				return err
			}
			staged = append(staged, stagedFile{temp: temp, target: part.target})
		}
	}

	return commitStaged(c.dir, staged)
}

func (c *fsCache) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]Key, 0, len(dirents)/2)
	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			return nil, err
		}
		var meta entryMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (c *fsCache) entryBase(key Key) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

type stagedFile struct {
	temp   string
	target string
	backup string
}

func writeTemp(dir string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func commitStaged(dir string, staged []stagedFile) error {
	committed := 0
	rollback := func() {
		for i := committed - 1; i >= 0; i-- {
			f := staged[i]
			os.Remove(f.target)
			if f.backup != "" {
				os.Rename(f.backup, f.target)
			}
		}
		for _, f := range staged[committed:] {
			os.Remove(f.temp)
		}
	}

	for i := range staged {
		f := &staged[i]
		if _, err := os.Stat(f.target); err == nil {
			backup := filepath.Join(dir, tempPrefix+"bak-"+filepath.Base(f.temp))
			if err := os.Rename(f.target, backup); err != nil {
				rollback()
				return err
			}
			f.backup = backup
		}
		if err := os.Rename(f.temp, f.target); err != nil {
			if f.backup != "" {
				os.Rename(f.backup, f.target)
				f.backup = ""
			}
			rollback()
			return err
		}
		committed++
	}

	for _, f := range staged {
		if f.backup != "" {
			os.Remove(f.backup)
		}
	}
	return nil
}
