package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"vinochat/internal/cache"
	"vinochat/internal/config"
	"vinochat/internal/models"
	"vinochat/internal/service/search"
	"vinochat/internal/service/weather"
	"vinochat/internal/worker"
)

func TestChatReturnsAgentResponse(t *testing.T) {
	chat := &fakeChat{resp: &models.ChatResponse{Response: "Try a Riesling.", ToolUsed: "document_retrieval"}}
	router, _ := newTestServer(t, Deps{Chat: chat})

	rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "user", "content": "what goes with curry?"},
		},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var body struct {
		Response string `json:"response"`
		ToolUsed string `json:"tool_used"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Response != "Try a Riesling." || body.ToolUsed != "document_retrieval" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(chat.requests) != 1 {
		t.Fatalf("expected one submitted request, got %d", len(chat.requests))
	}
	got := chat.requests[0]
	if len(got.Messages) != 3 {
		t.Fatalf("expected full history to reach the agent, got %d messages", len(got.Messages))
	}
	if got.Location != "Napa,CA,US" {
		t.Fatalf("expected default location, got %q", got.Location)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestChatValidation(t *testing.T) {
	router, _ := newTestServer(t, Deps{Chat: &fakeChat{}})
	cases := map[string]any{
		"empty":          map[string]any{"messages": []any{}},
		"assistant last": map[string]any{"messages": []map[string]string{{"role": "assistant", "content": "x"}}},
		"bad role":       map[string]any{"messages": []map[string]string{{"role": "system", "content": "x"}, {"role": "user", "content": "y"}}},
		"blank content":  map[string]any{"messages": []map[string]string{{"role": "user", "content": "   "}}},
	}
	for name, payload := range cases {
		rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", payload, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		assertDetail(t, rec)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{worker.ErrPoolBusy, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("model exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router, _ := newTestServer(t, Deps{Chat: &fakeChat{err: tc.err}})
		rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", userMessage("hi"), nil)
		assertStatus(t, rec, tc.want)
		detail := assertDetail(t, rec)
		if tc.want == http.StatusServiceUnavailable && detail != "server is busy, please retry" {
			t.Fatalf("unexpected busy detail %q", detail)
		}
		if tc.want == http.StatusInternalServerError && detail != "model exploded" {
			t.Fatalf("unexpected detail %q", detail)
		}
	}
}

func TestWeatherEndpoint(t *testing.T) {
	ws := &fakeWeather{report: &models.WeatherReport{Location: "Napa", Temperature: 72, Condition: "clear sky", Humidity: 40, WindSpeed: 3}}
	router, _ := newTestServer(t, Deps{Weather: ws})

	rec := doJSONRequest(t, router, http.MethodGet, "/api/weather", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Weather     string `json:"weather"`
		Location    string `json:"location"`
		Temperature int    `json:"temperature"`
		Condition   string `json:"condition"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Weather == "" || body.Location != "Napa" || body.Temperature != 72 || body.Condition != "clear sky" {
		t.Fatalf("unexpected weather body: %+v", body)
	}
	if ws.lastLocation != "Napa,CA,US" {
		t.Fatalf("expected default location, got %q", ws.lastLocation)
	}

	doJSONRequest(t, router, http.MethodGet, "/api/weather?location=Paris", nil, nil)
	if ws.lastLocation != "Paris" {
		t.Fatalf("expected explicit location, got %q", ws.lastLocation)
	}
}

func TestWeatherErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{weather.ErrNotConfigured, http.StatusServiceUnavailable},
		{weather.ErrLocationNotFound, http.StatusNotFound},
		{errors.New("upstream 500"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		router, _ := newTestServer(t, Deps{Weather: &fakeWeather{err: tc.err}})
		rec := doJSONRequest(t, router, http.MethodGet, "/api/weather", nil, nil)
		assertStatus(t, rec, tc.want)
		var body map[string]any
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body["error"] == nil || body["detail"] == nil {
			t.Fatalf("expected error and detail, got %v", body)
		}
	}
}

func TestSearchEndpoint(t *testing.T) {
	ss := &fakeSearch{results: []models.SearchResult{{Title: "Pinot", Link: "https://example.com", Snippet: "light red"}}}
	router, _ := newTestServer(t, Deps{Search: ss})

	rec := doJSONRequest(t, router, http.MethodGet, "/api/search?query=pinot", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Results []models.SearchResult `json:"results"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if len(body.Results) != 1 || body.Results[0].Title != "Pinot" {
		t.Fatalf("unexpected results: %+v", body.Results)
	}
	if ss.lastN != search.DefaultResults {
		t.Fatalf("expected default result count, got %d", ss.lastN)
	}

	doJSONRequest(t, router, http.MethodGet, "/api/search?query=pinot&num_results=50", nil, nil)
	if ss.lastN != search.MaxResults {
		t.Fatalf("expected clamp to %d, got %d", search.MaxResults, ss.lastN)
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/api/search", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	rec = doJSONRequest(t, router, http.MethodGet, "/api/search?query=x&num_results=abc", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSearchErrors(t *testing.T) {
	router, _ := newTestServer(t, Deps{Search: &fakeSearch{err: search.ErrNoResults}})
	rec := doJSONRequest(t, router, http.MethodGet, "/api/search?query=nothing", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Fatalf("expected empty results array, got %s", rec.Body.String())
	}

	router, _ = newTestServer(t, Deps{Search: &fakeSearch{err: errors.New("provider down")}})
	rec = doJSONRequest(t, router, http.MethodGet, "/api/search?query=x", nil, nil)
	assertStatus(t, rec, http.StatusBadGateway)
	assertDetail(t, rec)
}

func TestReloadDocumentsPublishesEvent(t *testing.T) {
	kb := &fakeKnowledge{count: 4}
	events := &fakePublisher{}
	router, _ := newTestServer(t, Deps{Knowledge: kb, Events: events})

	for _, path := range []string{"/api/documents/reload", "/api/documents/upload"} {
		rec := doJSONRequest(t, router, http.MethodPost, path, nil, nil)
		assertStatus(t, rec, http.StatusOK)
		var body struct {
			Message       string `json:"message"`
			DocumentCount int    `json:"document_count"`
		}
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body.DocumentCount != 4 || body.Message == "" {
			t.Fatalf("unexpected reload body: %+v", body)
		}
	}
	if kb.reloads != 2 {
		t.Fatalf("expected 2 reloads, got %d", kb.reloads)
	}
	if len(events.events) != 2 || events.events[0].Kind != "reload" || events.events[0].Count != 4 {
		t.Fatalf("unexpected events: %+v", events.events)
	}

	router, _ = newTestServer(t, Deps{Knowledge: &fakeKnowledge{err: errors.New("disk gone")}})
	rec := doJSONRequest(t, router, http.MethodPost, "/api/documents/reload", nil, nil)
	assertStatus(t, rec, http.StatusInternalServerError)
	assertDetail(t, rec)
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t, Deps{Knowledge: &fakeKnowledge{count: 7}, Stats: fakeStats{worker.Stats{Idle: 2}}})
	rec := doJSONRequest(t, router, http.MethodGet, "/api/health", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Status      string       `json:"status"`
		Service     string       `json:"service"`
		Version     string       `json:"version"`
		Environment string       `json:"environment"`
		Documents   int          `json:"documents"`
		Workers     worker.Stats `json:"workers"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Status != "ok" || body.Service != ServiceName || body.Version != Version || body.Environment != "development" {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if body.Documents != 7 || body.Workers.Idle != 2 {
		t.Fatalf("unexpected health details: %+v", body)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthReportsRedis(t *testing.T) {
	for _, tc := range []struct {
		name string
		deps Deps
		want string
	}{
		{"up", Deps{Redis: fakePinger{}}, "ok"},
		{"down", Deps{Redis: fakePinger{err: errors.New("connection refused")}}, "unavailable"},
		{"disabled", Deps{}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newTestServer(t, tc.deps)
			rec := doJSONRequest(t, router, http.MethodGet, "/api/health", nil, nil)
			assertStatus(t, rec, http.StatusOK)
			var body struct {
				Status string `json:"status"`
				Redis  string `json:"redis"`
			}
			decodeJSON(t, rec.Body.Bytes(), &body)
			if body.Status != "ok" || body.Redis != tc.want {
				t.Fatalf("unexpected health body: %+v", body)
			}
		})
	}
}

func TestMissingServicesReturnUnavailable(t *testing.T) {
	router, _ := newTestServer(t, Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/weather"},
		{http.MethodGet, "/api/search?query=x"},
		{http.MethodPost, "/api/documents/reload"},
	} {
		rec := doJSONRequest(t, router, tc.method, tc.path, nil, nil)
		assertStatus(t, rec, http.StatusServiceUnavailable)
		assertDetail(t, rec)
	}
}

func TestIndexAndStatic(t *testing.T) {
	router, cfg := newTestServer(t, Deps{})
	cfg.BasicConfig.DefaultLocation = "Paso Robles,CA,US"

	rec := doJSONRequest(t, router, http.MethodGet, "/", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `data-location="Paso Robles,CA,US"`) {
		t.Fatalf("expected configured location in page")
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/static/chat.js", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "escapeHTML") {
		t.Fatalf("expected chat script body")
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/nope", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
	assertDetail(t, rec)
}

func TestChatRateLimited(t *testing.T) {
	router, _ := newTestServer(t, Deps{Chat: &fakeChat{resp: &models.ChatResponse{Response: "ok"}}})
	for i := 0; i < 10; i++ {
		rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", userMessage("hi"), nil)
		assertStatus(t, rec, http.StatusOK)
	}
	rec := doJSONRequest(t, router, http.MethodPost, "/api/chat", userMessage("hi"), nil)
	assertStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	assertDetail(t, rec)
}

func newTestServer(t *testing.T, deps Deps) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	handler := NewHandler(cfg, deps)
	return NewRouter(handler), cfg
}

func userMessage(content string) map[string]any {
	return map[string]any{"messages": []map[string]string{{"role": "user", "content": content}}}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Detail == "" {
		t.Fatalf("expected detail in body: %s", rec.Body.String())
	}
	return body.Detail
}

type fakeChat struct {
	mu       sync.Mutex
	resp     *models.ChatResponse
	err      error
	requests []models.ChatRequest
}

func (f *fakeChat) Submit(_ context.Context, _ string, req models.ChatRequest) (*models.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeWeather struct {
	report       *models.WeatherReport
	err          error
	lastLocation string
}

func (f *fakeWeather) Summary(_ context.Context, location string) (string, *models.WeatherReport, error) {
	f.lastLocation = location
	if f.err != nil {
		return "", nil, f.err
	}
	return weather.Summarize(f.report, "imperial"), f.report, nil
}

type fakeSearch struct {
	results []models.SearchResult
	err     error
	lastN   int
}

func (f *fakeSearch) Search(_ context.Context, _ string, n int) ([]models.SearchResult, error) {
	f.lastN = n
	return f.results, f.err
}

type fakeKnowledge struct {
	count   int
	err     error
	reloads int
}

func (f *fakeKnowledge) Reload(context.Context) (int, error) {
	f.reloads++
	return f.count, f.err
}

func (f *fakeKnowledge) Count(context.Context) (int, error) { return f.count, f.err }

type fakePublisher struct {
	events []cache.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev cache.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeStats struct{ stats worker.Stats }

func (f fakeStats) Stats() worker.Stats { return f.stats }
