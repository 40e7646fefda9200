package cache

import "fmt"

// 后端名称与配置中的 Cache.Backend 对应。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// NewStorage 根据后端名称构建 Storage，整个进程复用一份实例。
func NewStorage(backend, basePath string) (Storage, error) {
	switch backend {
	case "", BackendFS:
		return NewFSStorage(basePath)
	case BackendSQLite:
		return NewSQLiteStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}
