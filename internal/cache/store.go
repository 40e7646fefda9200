package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Storage 管理按名称区分的缓存仓库，对应浏览器中的 CacheStorage。
// 所有方法可并发调用；同名仓库在任一时刻至多存在一个。
type Storage interface {
	// Keys 返回当前所有仓库名称，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Has 判断指定名称的仓库是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Open 打开仓库，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Delete 删除仓库及其全部条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个仓库：请求 Key 到已存储响应的映射。
type Cache interface {
	Name() string

	// Match 查找条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, error)

	// PutAll 原子写入一批条目：要么全部可见，要么全部不可见。
	PutAll(ctx context.Context, entries []Entry) error

	// Keys 返回仓库内全部 Key，按字典序排列。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 标识一个可缓存请求：URL 路径加原始查询串。仅 GET 请求会被存储或匹配。
type Key string

// KeyFor 由 URL 计算 Key，忽略 scheme/host 与 fragment。
func KeyFor(u *url.URL) Key {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return Key(p + "?" + u.RawQuery)
	}
	return Key(p)
}

// ParseKey 将路径（可带查询串）解析为 Key。
func ParseKey(raw string) (Key, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", err
	}
	return KeyFor(u), nil
}

// Entry 是一条已存储的响应。
type Entry struct {
	Key      Key         `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示仓库名称为空或包含非法字符。
	ErrInvalidName = errors.New("invalid cache name")
	// ErrCacheDeleted 表示仓库在持有句柄期间已被删除。
	ErrCacheDeleted = errors.New("cache deleted")
)
