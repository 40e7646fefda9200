// Package manifest holds the Resource Table: the fixed set of asset paths the
// packaged web app needs offline, each paired with the content fingerprint the
// build tool computed for it. Fingerprints identify an asset generation; they
// are never checked against fetched bytes.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrEmptyTable 表示资源表没有任何条目。
var ErrEmptyTable = errors.New("resource table is empty")

// Table 是路径到内容指纹的只读映射，构造后不再修改。
type Table struct {
	entries map[string]string
	paths   []string
}

// New 复制 entries 并校验路径格式；路径必须以 "/" 开头。
func New(entries map[string]string) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTable
	}
	copied := make(map[string]string, len(entries))
	paths := make([]string, 0, len(entries))
	for path, fingerprint := range entries {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("resource path %q must start with /", path)
		}
		copied[path] = strings.TrimSpace(fingerprint)
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return &Table{entries: copied, paths: paths}, nil
}

// Load 从 JSON 对象文件读取资源表，格式与构建工具输出一致：{"/path": "fingerprint"}。
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource table: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode resource table %s: %w", path, err)
	}
	return New(entries)
}

// LoadOrDefault 在 path 为空时返回内置资源表。
func LoadOrDefault(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

// Paths 返回按字典序排列的资源路径副本。
func (t *Table) Paths() []string {
	return append([]string(nil), t.paths...)
}

// Len 返回条目数量。
func (t *Table) Len() int {
	return len(t.paths)
}

// Fingerprint 查询单个路径的指纹。
func (t *Table) Fingerprint(path string) (string, bool) {
	fp, ok := t.entries[path]
	return fp, ok
}

// Contains reports whether path is listed.
func (t *Table) Contains(path string) bool {
	_, ok := t.entries[path]
	return ok
}

// Entries 返回映射副本，供诊断接口序列化。
func (t *Table) Entries() map[string]string {
	out := make(map[string]string, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Digest 对排序后的 path/fingerprint 对做 sha256，标识当前部署的资源代际。
func (t *Table) Digest() string {
	h := sha256.New()
	for _, path := range t.paths {
		h.Write([]byte(path))
		h.Write([]byte{0})
		h.Write([]byte(t.entries[path]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
