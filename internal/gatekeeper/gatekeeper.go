package gatekeeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rjbeckwith55/app/internal/cache"
	"github.com/Rjbeckwith55/app/internal/logging"
	"github.com/Rjbeckwith55/app/internal/manifest"
	"github.com/Rjbeckwith55/app/internal/network"
)

// Fetcher 是网络边界：按凭证模式发出请求并原样返回响应。
// Do 跟随重定向，用于拉取资源；Forward 不跟随，用于未命中透传。
type Fetcher interface {
	Do(ctx context.Context, req *http.Request, mode network.CredentialsMode) (*http.Response, error)
	Forward(ctx context.Context, req *http.Request, mode network.CredentialsMode) (*http.Response, error)
}

// Source 标识响应来自缓存还是网络。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Response 是 Fetch 的结果：缓存条目或实时网络响应之一，绝不合并。
type Response struct {
	Status   int
	Header   http.Header
	Body     io.ReadCloser
	Source   Source
	StoredAt time.Time
}

// Options 汇总 Gatekeeper 的依赖与行为开关。
type Options struct {
	CacheName   string
	Resources   *manifest.Table
	Storage     cache.Storage
	Network     Fetcher
	Logger      *logrus.Logger
	Credentials network.CredentialsMode
	// PopulateConcurrency 限制 activate 期间同时进行的资源请求数。
	PopulateConcurrency int
	// PurgeForeign 为 true 时 activate 删除所有仓库，否则只删除自己的仓库。
	PurgeForeign bool
}

// Gatekeeper 持有资源表并响应 activate/fetch 两类事件。
type Gatekeeper struct {
	name        string
	resources   *manifest.Table
	storage     cache.Storage
	network     Fetcher
	logger      *logrus.Logger
	credentials network.CredentialsMode
	concurrency int
	purgeAll    bool

	mu      sync.RWMutex
	current cache.Cache
}

// New 校验依赖并构造 Gatekeeper。
func New(opts Options) (*Gatekeeper, error) {
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.Resources == nil {
		return nil, errors.New("resource table is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	credentials := opts.Credentials
	if credentials == "" {
		credentials = network.CredentialsInclude
	}
	concurrency := opts.PopulateConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Gatekeeper{
		name:        opts.CacheName,
		resources:   opts.Resources,
		storage:     opts.Storage,
		network:     opts.Network,
		logger:      logger,
		credentials: credentials,
		concurrency: concurrency,
		purgeAll:    opts.PurgeForeign,
	}, nil
}

// CacheName 返回受管仓库的名称。
func (g *Gatekeeper) CacheName() string {
	return g.name
}

// Resources 返回资源表。
func (g *Gatekeeper) Resources() *manifest.Table {
	return g.resources
}

// Fetch 先查缓存，命中直接返回；未命中则携带凭证转发到网络并原样返回结果。
// 网络传输错误原样返回给调用方，没有重试也没有离线兜底页。
func (g *Gatekeeper) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request is required")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if req.Method == http.MethodGet {
		if entry := g.match(ctx, req); entry != nil {
			return &Response{
				Status:   entry.Status,
				Header:   entry.Header.Clone(),
				Body:     io.NopCloser(bytes.NewReader(entry.Body)),
				Source:   SourceCache,
				StoredAt: entry.StoredAt,
			}, nil
		}
	}

	resp, err := g.network.Forward(ctx, req, g.credentials)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   resp.Body,
		Source: SourceNetwork,
	}, nil
}

// match 返回命中的条目；未命中或读取失败时返回 nil，由网络兜底。
func (g *Gatekeeper) match(ctx context.Context, req *http.Request) *cache.Entry {
	c, err := g.lookupCache(ctx)
	if err != nil {
		g.logger.WithError(err).WithField("cache", g.name).Warn("cache_open_failed")
		return nil
	}
	if c == nil {
		return nil
	}
	entry, err := c.Match(ctx, cache.KeyFor(req.URL))
	switch {
	case err == nil:
		return entry
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		g.logger.WithError(err).
			WithFields(logrus.Fields{"cache": g.name, "path": req.URL.Path}).
			Warn("cache_get_failed")
		return nil
	}
}

// lookupCache 优先复用 activate 打开的句柄；进程未执行 activate 时读取已存在的仓库，
// 但不会创建新仓库。
func (g *Gatekeeper) lookupCache(ctx context.Context) (cache.Cache, error) {
	if g.current != nil {
		return g.current, nil
	}
	ok, err := g.storage.Has(ctx, g.name)
	if err != nil || !ok {
		return nil, err
	}
	return g.storage.Open(ctx, g.name)
}

// CacheSummary 描述一个仓库及其条目，供诊断接口使用。
type CacheSummary struct {
	Name    string   `json:"name"`
	Managed bool     `json:"managed"`
	Keys    []string `json:"keys"`
}

// Inspect 列出存储中全部仓库及其 Key。
func (g *Gatekeeper) Inspect(ctx context.Context) ([]CacheSummary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names, err := g.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	summaries := make([]CacheSummary, 0, len(names))
	for _, name := range names {
		c, err := g.storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("open cache %s: %w", name, err)
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("list keys of %s: %w", name, err)
		}
		summary := CacheSummary{Name: name, Managed: name == g.name, Keys: make([]string, 0, len(keys))}
		for _, key := range keys {
			summary.Keys = append(summary.Keys, string(key))
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ResourceSnapshot 是资源表的可序列化视图。
type ResourceSnapshot struct {
	CacheName string            `json:"cache_name"`
	Digest    string            `json:"digest"`
	Count     int               `json:"count"`
	Resources map[string]string `json:"resources"`
}

// ResourceSnapshot 返回资源表副本与摘要。
func (g *Gatekeeper) ResourceSnapshot() ResourceSnapshot {
	return ResourceSnapshot{
		CacheName: g.name,
		Digest:    g.resources.Digest(),
		Count:     g.resources.Len(),
		Resources: g.resources.Entries(),
	}
}
