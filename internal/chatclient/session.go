// Package chatclient drives a conversation with the concierge API: it keeps
// the transcript, guards the single in-flight chat request and renders
// replies, weather and search results into a View.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"vinochat/internal/logger"
	"vinochat/internal/models"
)

const (
	DefaultLocation        = "Napa,CA,US"
	DefaultTimeout         = 2 * time.Minute
	DefaultSuggestionDelay = 300 * time.Millisecond

	maxResponseBytes = 4 << 20
)

// Session is one chat conversation. Weather, search and health calls may
// run concurrently with a chat turn; chat turns are strictly one at a time.
type Session struct {
	baseURL         string
	location        string
	client          *http.Client
	timeout         time.Duration
	view            View
	transcript      *Transcript
	processing      atomic.Bool
	suggestionDelay time.Duration
	lastTool        atomic.Value
}

type Option func(*Session)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout bounds every request made by the session.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLocation(location string) Option {
	return func(s *Session) {
		if loc := strings.TrimSpace(location); loc != "" {
			s.location = loc
		}
	}
}

func WithSuggestionDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.suggestionDelay = d
		}
	}
}

// New creates a session talking to the API at baseURL.
func New(baseURL string, view View, opts ...Option) *Session {
	s := &Session{
		baseURL:         strings.TrimRight(baseURL, "/"),
		location:        DefaultLocation,
		client:          http.DefaultClient,
		timeout:         DefaultTimeout,
		view:            view,
		transcript:      &Transcript{},
		suggestionDelay: DefaultSuggestionDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	client := *s.client
	if s.timeout > 0 {
		client.Timeout = s.timeout
	}
	s.client = &client
	return s
}

func (s *Session) Transcript() []models.Message { return s.transcript.Snapshot() }

func (s *Session) Location() string { return s.location }

// Processing reports whether a chat turn is in flight.
func (s *Session) Processing() bool { return s.processing.Load() }

// LastTool is the tool_used reported by the most recent successful turn.
func (s *Session) LastTool() string {
	v, _ := s.lastTool.Load().(string)
	return v
}

// Submit sends text as the next user message and renders the reply or an
// error banner. It returns false without side effects when the text is
// blank or another turn is still in flight.
func (s *Session) Submit(ctx context.Context, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if !s.processing.CompareAndSwap(false, true) {
		return false
	}
	defer s.settle()

	s.view.SetInput("")
	s.addMessage(models.RoleUser, trimmed)
	s.view.SetLoading(true)
	s.view.SetSubmitEnabled(false)

	resp, err := s.chat(ctx, models.ChatRequest{
		Messages: s.transcript.Snapshot(),
		Location: s.location,
	})
	if err != nil {
		logger.Warn("chatclient", "chat turn failed", logger.Fields{"error": err.Error()})
		s.showError(UserMessage(err))
		return true
	}
	if resp.ToolUsed != "" {
		s.lastTool.Store(resp.ToolUsed)
		logger.Debug("chatclient", "tool used", logger.Fields{"tool": resp.ToolUsed})
	}
	s.addMessage(models.RoleAssistant, resp.Response)
	return true
}

// Suggest pre-fills the input with text and submits it after the
// suggestion delay.
func (s *Session) Suggest(ctx context.Context, text string) bool {
	s.view.SetInput(text)
	if s.suggestionDelay > 0 {
		timer := time.NewTimer(s.suggestionDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return s.Submit(ctx, text)
}

// Replay renders every transcript entry again without appending.
func (s *Session) Replay() {
	for _, m := range s.transcript.Snapshot() {
		s.view.AppendMessage(m.Role, RenderHTML(m.Content))
	}
}

func (s *Session) settle() {
	s.processing.Store(false)
	s.view.SetLoading(false)
	s.view.SetSubmitEnabled(true)
}

func (s *Session) addMessage(role models.Role, content string) {
	s.transcript.Append(role, content)
	s.view.AppendMessage(role, RenderHTML(content))
}

func (s *Session) showError(message string) {
	s.view.ShowError(RenderHTML(message))
}

func (s *Session) chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	const endpoint = "/api/chat"
	body, err := s.do(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return nil, err
	}
	reply := gjson.GetBytes(body, "response")
	if reply.Type != gjson.String {
		return nil, malformedError(endpoint, "missing response text")
	}
	return &models.ChatResponse{
		Response: reply.String(),
		ToolUsed: gjson.GetBytes(body, "tool_used").String(),
		Context:  gjson.GetBytes(body, "context").String(),
	}, nil
}

// WeatherSnapshot is what the weather badge shows. It is not retained.
type WeatherSnapshot struct {
	Summary     string
	Location    string
	Condition   string
	Temperature float64
	Humidity    float64
	WindSpeed   float64
	Icon        Icon
}

// FetchWeather loads the weather for the session location and updates the
// badge. Both the summary shape ({weather}) and the field shape
// ({location, temperature, condition, ...}) are accepted.
func (s *Session) FetchWeather(ctx context.Context) (*WeatherSnapshot, error) {
	snap, err := s.weather(ctx)
	if err != nil {
		logger.Warn("chatclient", "weather unavailable", logger.Fields{"error": err.Error()})
		s.view.SetWeather(IconPartlyCloudy, "Weather unavailable")
		return nil, err
	}
	s.view.SetWeather(snap.Icon, snap.Summary)
	return snap, nil
}

func (s *Session) weather(ctx context.Context) (*WeatherSnapshot, error) {
	const endpoint = "/api/weather"
	body, err := s.do(ctx, http.MethodGet, endpoint+"?location="+url.QueryEscape(s.location), nil)
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
		return nil, backendError(endpoint, 0, msg.String())
	}

	fields := gjson.GetManyBytes(body, "weather", "location", "condition", "temperature", "humidity", "wind_speed")
	snap := &WeatherSnapshot{
		Summary:     fields[0].String(),
		Location:    fields[1].String(),
		Condition:   fields[2].String(),
		Temperature: fields[3].Float(),
		Humidity:    fields[4].Float(),
		WindSpeed:   fields[5].Float(),
	}
	if snap.Summary == "" {
		if snap.Location == "" && snap.Condition == "" {
			return nil, malformedError(endpoint, "no weather fields")
		}
		snap.Summary = fmt.Sprintf("%s: %.0f°F, %s", snap.Location, snap.Temperature, snap.Condition)
	}
	condition := snap.Condition
	if condition == "" {
		condition = snap.Summary
	}
	snap.Icon = IconFor(condition)
	return snap, nil
}

// Search runs a web search and renders the results. A blank query is
// ignored.
func (s *Session) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	const endpoint = "/api/search"
	body, err := s.do(ctx, http.MethodGet, endpoint+"?query="+url.QueryEscape(query), nil)
	if err != nil {
		s.view.ShowSearchResults(nil, err)
		return nil, err
	}
	list := gjson.GetBytes(body, "results")
	if list.Exists() && !list.IsArray() {
		err := malformedError(endpoint, "results is not a list")
		s.view.ShowSearchResults(nil, err)
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(list.Array()))
	for _, item := range list.Array() {
		results = append(results, models.SearchResult{
			Title:   item.Get("title").String(),
			Link:    item.Get("link").String(),
			Snippet: item.Get("snippet").String(),
			Source:  item.Get("source").String(),
		})
	}
	s.view.ShowSearchResults(results, nil)
	return results, nil
}

// CheckHealth calls the health endpoint and shows a banner when it is unreachable.
func (s *Session) CheckHealth(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodGet, "/api/health", nil); err != nil {
		s.showError(fmt.Sprintf("The concierge service is unreachable right now (%s).", err))
		return err
	}
	return nil
}

func (s *Session) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	path := endpoint
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, connectivityError(endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, connectivityError(endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, connectivityError(endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		if gjson.ValidBytes(body) {
			if detail := gjson.GetBytes(body, "detail"); detail.Type == gjson.String && detail.String() != "" {
				msg = detail.String()
			} else if e := gjson.GetBytes(body, "error"); e.Type == gjson.String && e.String() != "" {
				msg = e.String()
			}
		}
		return nil, backendError(endpoint, resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, malformedError(endpoint, "body is not JSON")
	}
	return body, nil
}
