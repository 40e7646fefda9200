package gatekeeper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rjbeckwith55/app/internal/cache"
	"github.com/Rjbeckwith55/app/internal/manifest"
	"github.com/Rjbeckwith55/app/internal/network"
)

const testCacheName = "flutter-app-cache"

func TestActivateThenFetchScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		seedCache(t, storage, "other-app", "/x")
		seedCache(t, storage, testCacheName, "/stale.txt")

		net := newFakeNetwork()
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1"}, true)

		require.NoError(t, gk.Activate(ctx))

		names, err := storage.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{testCacheName}, names)
		assert.Equal(t, []cache.Key{"/a.txt"}, cacheKeys(t, storage, testCacheName))

		net.reset()
		resp := fetch(t, gk, http.MethodGet, "/a.txt", nil)
		assert.Equal(t, SourceCache, resp.Source)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "network:/a.txt", readBody(t, resp))
		assert.Empty(t, net.snapshot(), "cache hit must not touch the network")

		resp = fetch(t, gk, http.MethodGet, "/b.txt", nil)
		assert.Equal(t, SourceNetwork, resp.Source)
		assert.Equal(t, "network:/b.txt", readBody(t, resp))
		calls := net.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, "/b.txt", calls[0].path)
		assert.Equal(t, network.CredentialsInclude, calls[0].mode)
		assert.True(t, calls[0].forwarded, "misses must not follow redirects")
	})
}

func TestActivatePopulateFollowsRedirects(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		net := newFakeNetwork()
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1", "/b.txt": "hash2"}, true)

		require.NoError(t, gk.Activate(context.Background()))

		for _, c := range net.snapshot() {
			assert.False(t, c.forwarded, "populate %s should use the redirect-following path", c.path)
			assert.Equal(t, network.CredentialsSameOrigin, c.mode)
		}
	})
}

func TestActivateFailsWholeOnSingleResourceFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		net := newFakeNetwork()
		net.respond("/b.txt", http.StatusNotFound, "missing")
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1", "/b.txt": "hash2"}, true)

		err := gk.Activate(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPopulate)
		assert.ErrorIs(t, err, ErrBadStatus)
		assert.Empty(t, cacheKeys(t, storage, testCacheName))

		net.reset()
		resp := fetch(t, gk, http.MethodGet, "/a.txt", nil)
		assert.Equal(t, SourceNetwork, resp.Source)
		assert.Len(t, net.snapshot(), 1)
	})
}

func TestActivateFailsOnTransportError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		net := newFakeNetwork()
		boom := errors.New("connection refused")
		net.fail("/a.txt", boom)
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1"}, true)

		err := gk.Activate(context.Background())
		assert.ErrorIs(t, err, ErrPopulate)
		assert.ErrorIs(t, err, boom)
	})
}

func TestActivateIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		net := newFakeNetwork()
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1", "/b.txt": "hash2"}, true)

		require.NoError(t, gk.Activate(ctx))
		first := cacheKeys(t, storage, testCacheName)
		require.NoError(t, gk.Activate(ctx))
		second := cacheKeys(t, storage, testCacheName)

		assert.Equal(t, first, second)
		assert.Len(t, net.snapshot(), 4, "each activation re-fetches every resource")

		names, err := storage.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{testCacheName}, names)
	})
}

func TestActivateScopedPurgeKeepsForeignCaches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		seedCache(t, storage, "other-app", "/x")
		gk := newTestGatekeeper(t, storage, newFakeNetwork(), map[string]string{"/a.txt": "hash1"}, false)

		require.NoError(t, gk.Activate(ctx))

		names, err := storage.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{testCacheName, "other-app"}, names)
	})
}

func TestFetchPassesThroughNetworkErrorsAndStatuses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		net := newFakeNetwork()
		boom := errors.New("dial tcp: no route to host")
		net.fail("/down", boom)
		net.respond("/gone", http.StatusGone, "gone")
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1"}, true)

		_, err := gk.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/down", nil))
		assert.ErrorIs(t, err, boom)

		resp := fetch(t, gk, http.MethodGet, "/gone", nil)
		assert.Equal(t, http.StatusGone, resp.Status)
		assert.Equal(t, "gone", readBody(t, resp))
	})
}

func TestFetchNonGetBypassesCache(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		net := newFakeNetwork()
		gk := newTestGatekeeper(t, storage, net, map[string]string{"/a.txt": "hash1"}, true)
		require.NoError(t, gk.Activate(ctx))
		net.reset()

		resp := fetch(t, gk, http.MethodPost, "/a.txt", strings.NewReader("payload"))
		assert.Equal(t, SourceNetwork, resp.Source)
		calls := net.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodPost, calls[0].method)
	})
}

func TestFetchUsesCacheLeftByPreviousProcess(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		ctx := context.Background()
		table := map[string]string{"/a.txt": "hash1"}
		require.NoError(t, newTestGatekeeper(t, storage, newFakeNetwork(), table, true).Activate(ctx))

		net := newFakeNetwork()
		restarted := newTestGatekeeper(t, storage, net, table, true)
		resp := fetch(t, restarted, http.MethodGet, "/a.txt", nil)
		assert.Equal(t, SourceCache, resp.Source)
		assert.Empty(t, net.snapshot())
	})
}

func TestFetchWithoutCacheDoesNotCreateOne(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage cache.Storage) {
		gk := newTestGatekeeper(t, storage, newFakeNetwork(), map[string]string{"/a.txt": "hash1"}, true)

		resp := fetch(t, gk, http.MethodGet, "/a.txt", nil)
		assert.Equal(t, SourceNetwork, resp.Source)

		ok, err := storage.Has(context.Background(), testCacheName)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPopulateRespectsConcurrencyLimit(t *testing.T) {
	storage, err := cache.NewFSStorage(t.TempDir())
	require.NoError(t, err)

	table := map[string]string{}
	for _, p := range []string{"/1", "/2", "/3", "/4", "/5", "/6", "/7", "/8"} {
		table[p] = "fp"
	}
	net := newFakeNetwork()
	net.delay = 10 * time.Millisecond
	resources, err := manifest.New(table)
	require.NoError(t, err)
	gk, err := New(Options{
		CacheName:           testCacheName,
		Resources:           resources,
		Storage:             storage,
		Network:             net,
		PopulateConcurrency: 3,
		PurgeForeign:        true,
	})
	require.NoError(t, err)

	require.NoError(t, gk.Activate(context.Background()))
	assert.LessOrEqual(t, net.maxInFlight, 3)
	assert.Len(t, cacheKeys(t, storage, testCacheName), 8)
}

func TestInspectReportsManagedCache(t *testing.T) {
	storage, err := cache.NewFSStorage(t.TempDir())
	require.NoError(t, err)
	seedCache(t, storage, "other-app", "/x")
	gk := newTestGatekeeper(t, storage, newFakeNetwork(), map[string]string{"/a.txt": "hash1"}, false)
	require.NoError(t, gk.Activate(context.Background()))

	summaries, err := gk.Inspect(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, CacheSummary{Name: testCacheName, Managed: true, Keys: []string{"/a.txt"}}, summaries[0])
	assert.False(t, summaries[1].Managed)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

type call struct {
	method    string
	path      string
	mode      network.CredentialsMode
	forwarded bool
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

type fakeNetwork struct {
	mu          sync.Mutex
	calls       []call
	responses   map[string]fakeResponse
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{responses: map[string]fakeResponse{}}
}

func (f *fakeNetwork) respond(path string, status int, body string) {
	f.responses[path] = fakeResponse{status: status, body: body}
}

func (f *fakeNetwork) fail(path string, err error) {
	f.responses[path] = fakeResponse{err: err}
}

func (f *fakeNetwork) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeNetwork) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeNetwork) Do(ctx context.Context, req *http.Request, mode network.CredentialsMode) (*http.Response, error) {
	return f.serve(req, mode, false)
}

func (f *fakeNetwork) Forward(ctx context.Context, req *http.Request, mode network.CredentialsMode) (*http.Response, error) {
	return f.serve(req, mode, true)
}

func (f *fakeNetwork) serve(req *http.Request, mode network.CredentialsMode, forwarded bool) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{method: req.Method, path: req.URL.Path, mode: mode, forwarded: forwarded})
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	canned, ok := f.responses[req.URL.Path]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if !ok {
		canned = fakeResponse{status: http.StatusOK, body: "network:" + req.URL.Path}
	}
	if canned.err != nil {
		return nil, canned.err
	}
	return &http.Response{
		StatusCode: canned.status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(canned.body)),
		Request:    req,
	}, nil
}

func newTestGatekeeper(t *testing.T, storage cache.Storage, net Fetcher, table map[string]string, purgeAll bool) *Gatekeeper {
	t.Helper()
	resources, err := manifest.New(table)
	require.NoError(t, err)
	gk, err := New(Options{
		CacheName:           testCacheName,
		Resources:           resources,
		Storage:             storage,
		Network:             net,
		PopulateConcurrency: 2,
		PurgeForeign:        purgeAll,
	})
	require.NoError(t, err)
	return gk
}

func fetch(t *testing.T, gk *Gatekeeper, method, target string, body io.Reader) *Response {
	t.Helper()
	resp, err := gk.Fetch(context.Background(), httptest.NewRequest(method, target, body))
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func seedCache(t *testing.T, storage cache.Storage, name string, key cache.Key) {
	t.Helper()
	ctx := context.Background()
	c, err := storage.Open(ctx, name)
	require.NoError(t, err)
	require.NoError(t, c.PutAll(ctx, []cache.Entry{{Key: key, Status: http.StatusOK, Body: []byte("seed")}}))
}

func cacheKeys(t *testing.T, storage cache.Storage, name string) []cache.Key {
	t.Helper()
	ctx := context.Background()
	c, err := storage.Open(ctx, name)
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	return keys
}

func forEachBackend(t *testing.T, fn func(t *testing.T, storage cache.Storage)) {
	t.Helper()
	for _, backend := range []string{cache.BackendFS, cache.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			storage, err := cache.NewStorage(backend, t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = storage.Close() })
			fn(t, storage)
		})
	}
}
