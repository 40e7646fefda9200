// Package network issues requests against the origin that hosts the packaged
// app. It is the only place that talks to the outside world: the gatekeeper
// uses it both to populate the cache and to answer cache misses.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Rjbeckwith55/app/internal/server"
)

// CredentialsMode 对应 fetch 的 credentials 选项。
type CredentialsMode string

const (
	CredentialsOmit       CredentialsMode = "omit"
	CredentialsSameOrigin CredentialsMode = "same-origin"
	CredentialsInclude    CredentialsMode = "include"
)

// ParseCredentialsMode 解析配置值，空字符串视为 include。
func ParseCredentialsMode(raw string) (CredentialsMode, error) {
	switch mode := CredentialsMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return CredentialsInclude, nil
	case CredentialsOmit, CredentialsSameOrigin, CredentialsInclude:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported credentials mode: %s", raw)
	}
}

// credentialHeaders 是 omit 模式下需要剥离的环境凭证。
var credentialHeaders = []string{"Cookie", "Authorization"}

// Client 把请求改写到源站并通过共享 http.Client 发出。
// http 自动跟随重定向，供 activate 拉取资源；manual 原样返回 3xx，供未命中透传。
type Client struct {
	http   *http.Client
	manual *http.Client
	origin *url.URL
}

// NewClient 绑定源站地址；proxyURL 非空时所有请求经由该 HTTP 代理。
func NewClient(httpClient *http.Client, origin, proxyURL string) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", origin)
	}

	client := httpClient
	if strings.TrimSpace(proxyURL) != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport := &http.Transport{}
		if t, ok := httpClient.Transport.(*http.Transport); ok && t != nil {
			transport = t.Clone()
		}
		transport.Proxy = http.ProxyURL(parsed)
		copied := *httpClient
		copied.Transport = transport
		client = &copied
	}

	manual := *client
	manual.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{http: client, manual: &manual, origin: base}, nil
}

// Origin 返回源站基础地址。
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Do 将 req 的路径与查询串解析到源站上发出，并按 mode 决定是否携带 Cookie/Authorization。
// 重定向会被跟随，返回最终响应；调用方负责关闭 Body，非 2xx 状态不视为错误。
func (c *Client) Do(ctx context.Context, req *http.Request, mode CredentialsMode) (*http.Response, error) {
	return c.send(ctx, c.http, req, mode)
}

// Forward 与 Do 相同，但不跟随重定向：3xx 连同 Location 与 Set-Cookie 原样交给调用方。
func (c *Client) Forward(ctx context.Context, req *http.Request, mode CredentialsMode) (*http.Response, error) {
	return c.send(ctx, c.manual, req, mode)
}

func (c *Client) send(ctx context.Context, httpClient *http.Client, req *http.Request, mode CredentialsMode) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := c.resolve(req.URL)
	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = req.ContentLength
	server.CopyHeaders(out.Header, req.Header)
	out.Header.Del("Host")
	out.Host = target.Host

	if mode == CredentialsOmit {
		for _, key := range credentialHeaders {
			out.Header.Del(key)
		}
	}

	return httpClient.Do(out)
}

func (c *Client) resolve(u *url.URL) *url.URL {
	relative := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
	if relative.Path == "" {
		relative.Path = "/"
	}
	if basePath := strings.TrimRight(c.origin.Path, "/"); basePath != "" {
		relative.Path = basePath + relative.Path
		if relative.RawPath != "" {
			relative.RawPath = basePath + relative.RawPath
		}
	}
	return c.origin.ResolveReference(relative)
}
