package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinochat/internal/cache"
	"vinochat/internal/config"
)

type fakeTool struct {
	name  string
	out   string
	err   error
	calls int32
	args  atomic.Value
}

func (f *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name}, nil
}

func (f *fakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.args.Store(argumentsInJSON)
	return f.out, f.err
}

const googleOut = `{"query":"pinot","items":[
 {"title":"Pinot Noir guide","link":"https://example.com/pinot","snippet":"Light red."},
 {"title":"Pairing","link":"https://example.com/pair","snippet":"Salmon."},
 {"title":"Burgundy","link":"https://example.com/burg","snippet":"Origin."},
 {"title":"Oregon","link":"https://example.com/or","snippet":"Willamette."}
]}`

const duckOut = `{"message":"ok","results":[
 {"title":"DDG Pinot","url":"https://ddg.example/pinot","summary":"From duck."}
]}`

func withFakeProviders(t *testing.T, google, duck *fakeTool) {
	t.Helper()
	prevG, prevD := newGoogleTool, newDuckTool
	newGoogleTool = func(ctx context.Context, apiKey, engineID string, num int) (tool.InvokableTool, error) {
		if google == nil {
			return nil, errors.New("disabled")
		}
		return google, nil
	}
	newDuckTool = func(ctx context.Context, maxResults int) (tool.InvokableTool, error) {
		if duck == nil {
			return nil, errors.New("disabled")
		}
		return duck, nil
	}
	t.Cleanup(func() { newGoogleTool, newDuckTool = prevG, prevD })
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Secrets.GoogleKey = "key"
	cfg.Secrets.GoogleEngineID = "cx"
	return cfg
}

func TestSearchUsesGoogleAndTrims(t *testing.T) {
	google := &fakeTool{name: "google", out: googleOut}
	duck := &fakeTool{name: "duck", out: duckOut}
	withFakeProviders(t, google, duck)

	svc, err := New(context.Background(), testConfig(), cache.NewMemory())
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "pinot", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Pinot Noir guide", results[0].Title)
	assert.Equal(t, "https://example.com/pinot", results[0].Link)
	assert.Equal(t, "google", results[0].Source)
	assert.JSONEq(t, `{"query":"pinot","num":3}`, google.args.Load().(string))
	assert.Zero(t, atomic.LoadInt32(&duck.calls))

	// cached on the second call
	_, err = svc.Search(context.Background(), "Pinot", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&google.calls))
}

func TestSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &fakeTool{name: "google", err: errors.New("quota exceeded")}
	duck := &fakeTool{name: "duck", out: duckOut}
	withFakeProviders(t, google, duck)

	svc, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "pinot", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://ddg.example/pinot", results[0].Link)
	assert.Equal(t, "From duck.", results[0].Snippet)
	assert.Equal(t, "duckduckgo", results[0].Source)
}

func TestSearchWithoutGoogleCredentials(t *testing.T) {
	google := &fakeTool{name: "google", out: googleOut}
	duck := &fakeTool{name: "duck", out: duckOut}
	withFakeProviders(t, google, duck)

	svc, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), "pinot", 3)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&google.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&duck.calls))
}

func TestSearchErrors(t *testing.T) {
	duck := &fakeTool{name: "duck", out: `{"results":[]}`}
	withFakeProviders(t, nil, duck)
	svc, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), "   ", 3)
	assert.Error(t, err)

	_, err = svc.Search(context.Background(), "nothing", 3)
	assert.ErrorIs(t, err, ErrNoResults)

	duck.out, duck.err = "", errors.New("blocked")
	_, err = svc.Search(context.Background(), "blocked", 3)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestNewFailsWithoutProviders(t *testing.T) {
	withFakeProviders(t, nil, nil)
	_, err := New(context.Background(), config.Default(), nil)
	assert.Error(t, err)
}

func TestSearchFetchesURLQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Napa Harvest &amp; Co</title><script>var x=1;</script></head>
<body><h1>Harvest</h1><p>Cabernet picking starts in September.</p></body></html>`))
	}))
	defer srv.Close()
	allowLoopbackFetch(t)

	duck := &fakeTool{name: "duck", out: duckOut}
	withFakeProviders(t, nil, duck)
	svc, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), srv.URL, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Napa Harvest & Co", results[0].Title)
	assert.Equal(t, "url", results[0].Source)
	assert.Contains(t, results[0].Snippet, "Cabernet picking starts in September.")
	assert.NotContains(t, results[0].Snippet, "var x")
	assert.Zero(t, atomic.LoadInt32(&duck.calls))
}

func TestSearchRefusesPrivateURLs(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("<html><title>internal</title><body>secret metadata</body></html>"))
	}))
	defer srv.Close()

	duck := &fakeTool{name: "duck", out: duckOut}
	withFakeProviders(t, nil, duck)
	svc, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), srv.URL+"/latest/meta-data", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "duckduckgo", results[0].Source)
	assert.Zero(t, atomic.LoadInt32(&hits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&duck.calls))
}

func TestPublicAddress(t *testing.T) {
	for addr, want := range map[string]bool{
		"93.184.216.34:443":     true,
		"[2606:4700::1111]:443": true,
		"127.0.0.1:80":          false,
		"10.1.2.3:80":           false,
		"192.168.0.10:8080":     false,
		"169.254.169.254:80":    false,
		"0.0.0.0:80":            false,
		"[::1]:80":              false,
		"[::ffff:127.0.0.1]:80": false,
		"[fe80::1]:80":          false,
		"not-an-address":        false,
	} {
		assert.Equal(t, want, publicAddress(addr), addr)
	}
}

func allowLoopbackFetch(t *testing.T) {
	t.Helper()
	prev := fetchAddrAllowed
	fetchAddrAllowed = func(string) bool { return true }
	t.Cleanup(func() { fetchAddrAllowed = prev })
}

func TestParseResultsShapes(t *testing.T) {
	arr := ParseResults(`[{"name":"A","href":"https://a","body":"b"}]`, "x")
	require.Len(t, arr, 1)
	assert.Equal(t, "A", arr[0].Title)
	assert.Equal(t, "https://a", arr[0].Link)
	assert.Equal(t, "b", arr[0].Snippet)

	assert.Empty(t, ParseResults("not json", "x"))
	assert.Empty(t, ParseResults(`{"other":1}`, "x"))
}

func TestClampResults(t *testing.T) {
	assert.Equal(t, DefaultResults, ClampResults(0))
	assert.Equal(t, 5, ClampResults(5))
	assert.Equal(t, MaxResults, ClampResults(50))
}

func TestToolRateLimiterWindow(t *testing.T) {
	l := newToolRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("google"))
	assert.True(t, l.Allow("google"))
	assert.False(t, l.Allow("google"))
	assert.True(t, l.Allow("duckduckgo"))

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("google"))
}
