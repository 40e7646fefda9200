package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Rjbeckwith55/app/internal/gatekeeper"
	"github.com/Rjbeckwith55/app/internal/logging"
	"github.com/Rjbeckwith55/app/internal/server"
)

// Fetcher 是 Handler 依赖的 fetch 事件入口，由 gatekeeper.Gatekeeper 实现。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*gatekeeper.Response, error)
}

// Handler 把每个 HTTP 请求作为一次 fetch 事件交给网关，再把结果写回客户端。
type Handler struct {
	fetcher   Fetcher
	logger    *logrus.Logger
	cacheName string
}

// NewHandler constructs a handler bound to one gatekeeper and logger.
func NewHandler(fetcher Fetcher, logger *logrus.Logger, cacheName string) *Handler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		fetcher:   fetcher,
		logger:    logger,
		cacheName: cacheName,
	}
}

// Handle 实现 server.ProxyHandler：命中缓存直接输出，未命中由网关回源，
// 回源传输失败时返回 502。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	path := requestPath(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(ctx, c)
	if err != nil {
		h.logResult(method, path, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		h.logResult(method, path, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	cacheHit := resp.Source == gatekeeper.SourceCache
	copyResponseHeaders(c, resp.Header)
	c.Set("X-App-Cache-Hit", strconv.FormatBool(cacheHit))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	if method == http.MethodHead {
		h.logResult(method, path, requestID, resp.Status, cacheHit, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(method, path, requestID, resp.Status, cacheHit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// buildRequest 把 fiber 请求还原为 *http.Request，保留方法、路径、查询串、请求头与正文。
func buildRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), c.OriginalURL(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return server.WriteError(c, status, code)
}

func (h *Handler) logResult(
	method string,
	path string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(h.cacheName, method, path, cacheHit)
	fields["action"] = "fetch"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传响应头，多值头部逐个追加；Content-Length 由 fasthttp 按实际正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	dst := &c.Response().Header
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				dst.Set(key, value)
				continue
			}
			dst.Add(key, value)
		}
	}
}
