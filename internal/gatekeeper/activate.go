package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Rjbeckwith55/app/internal/cache"
	"github.com/Rjbeckwith55/app/internal/logging"
	"github.com/Rjbeckwith55/app/internal/network"
	"github.com/Rjbeckwith55/app/internal/server"
)

var (
	// ErrPopulate 表示 activate 期间至少一个资源拉取失败，仓库没有写入任何条目。
	ErrPopulate = errors.New("cache population failed")
	// ErrBadStatus 表示源站对资源返回了非 2xx 状态。
	ErrBadStatus = errors.New("unexpected response status")
)

// Activate 依次执行：删除已有仓库 → 打开受管仓库 → 拉取并写入全部资源。
// 调用在整条链完成后才返回，期间 Fetch 被挂起。任一资源失败即整体失败，不重试。
func (g *Gatekeeper) Activate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	started := time.Now()
	fields := logging.ActivationFields(g.name, g.resources.Digest(), g.resources.Len())

	if err := g.purge(ctx); err != nil {
		g.logger.WithFields(fields).WithError(err).Error("activate_failed")
		return err
	}
	g.current = nil

	c, err := g.storage.Open(ctx, g.name)
	if err != nil {
		err = fmt.Errorf("open cache %s: %w", g.name, err)
		g.logger.WithFields(fields).WithError(err).Error("activate_failed")
		return err
	}
	g.current = c

	entries, err := g.populate(ctx)
	if err == nil {
		err = c.PutAll(ctx, entries)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPopulate, err)
		g.logger.WithFields(fields).WithError(err).Error("activate_failed")
		return err
	}

	g.logger.WithFields(fields).Info("activate_complete")
	return nil
}

// purge 删除仓库。purgeAll 时删除全部仓库（包括不属于本应用的），否则仅删除受管仓库。
func (g *Gatekeeper) purge(ctx context.Context) error {
	names, err := g.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name != g.name && !g.purgeAll {
			continue
		}
		if _, err := g.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		if name != g.name {
			g.logger.WithFields(logrus.Fields{
				"action": "activate",
				"cache":  name,
			}).Warn("foreign_cache_deleted")
		}
	}
	return nil
}

// populate 并发拉取资源表中的每个路径，全部成功才返回条目；第一个失败会取消其余请求。
func (g *Gatekeeper) populate(ctx context.Context) ([]cache.Entry, error) {
	paths := g.resources.Paths()
	entries := make([]cache.Entry, len(paths))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i, path := range paths {
		group.Go(func() error {
			entry, err := g.fetchResource(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (g *Gatekeeper) fetchResource(ctx context.Context, path string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("build request for %s: %w", path, err)
	}
	resp, err := g.network.Do(ctx, req, network.CredentialsSameOrigin)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cache.Entry{}, fmt.Errorf("%w: %s returned %d", ErrBadStatus, path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read %s: %w", path, err)
	}
	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	return cache.Entry{
		Key:    cache.KeyFor(req.URL),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}
