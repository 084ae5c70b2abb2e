// Package search runs web searches through Google Custom Search with a
// DuckDuckGo fallback and normalizes the hits.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/tidwall/gjson"

	"vinochat/internal/cache"
	"vinochat/internal/config"
	"vinochat/internal/logger"
	"vinochat/internal/models"
)

const (
	DefaultResults    = 3
	MaxResults        = 10
	fetchTimeout      = 10 * time.Second
	maxFetchBody      = 512 * 1024
	snippetLen        = 300
	providerRateLimit = 30
)

var (
	ErrNoResults      = errors.New("no search results")
	ErrNoProvider     = errors.New("no search provider succeeded")
	ErrRateLimited    = errors.New("search rate limit exceeded, please retry in a minute")
	errEmptyQuery     = errors.New("query must not be empty")
	errUnsupportedURL = errors.New("unsupported url scheme")
)

// provider constructors, swapped out in tests
var (
	newGoogleTool = func(ctx context.Context, apiKey, engineID string, num int) (tool.InvokableTool, error) {
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       "web_search_google",
			ToolDesc:       "Google Search Tool",
			APIKey:         apiKey,
			SearchEngineID: engineID,
			Lang:           "en",
			Num:            num,
		})
	}
	newDuckTool = func(ctx context.Context, maxResults int) (tool.InvokableTool, error) {
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search_ddg",
			ToolDesc:   "DuckDuckGo Search Tool (no token required)",
			MaxResults: maxResults,
			Region:     duckduckgo.RegionWT,
			Timeout:    fetchTimeout,
		})
	}
)

type Service struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	cache      cache.Cache
	ttl        time.Duration
	limiter    *toolRateLimiter
}

// New wires the available providers. Google is enabled only when both the
// API key and engine id are set; DuckDuckGo needs no credentials.
func New(ctx context.Context, cfg *config.Config, c cache.Cache) (*Service, error) {
	s := &Service{
		httpClient: newFetchClient(),
		cache:      c,
		ttl:        time.Duration(cfg.Search.CacheHours) * time.Hour,
		limiter:    newToolRateLimiter(providerRateLimit, time.Minute),
	}
	num := cfg.Search.MaxResults
	if num <= 0 || num > MaxResults {
		num = MaxResults
	}

	if cfg.Secrets.GoogleKey != "" && cfg.Secrets.GoogleEngineID != "" {
		g, err := newGoogleTool(ctx, cfg.Secrets.GoogleKey, cfg.Secrets.GoogleEngineID, num)
		if err != nil {
			logger.Warn("search", "google search disabled", logger.Fields{"error": err.Error()})
		} else {
			s.google = g
		}
	} else {
		logger.Info("search", "google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID", nil)
	}

	d, err := newDuckTool(ctx, num)
	if err != nil {
		logger.Warn("search", "duckduckgo search disabled", logger.Fields{"error": err.Error()})
	} else {
		s.duck = d
	}

	if s.google == nil && s.duck == nil {
		return nil, errors.New("web search disabled: no search providers available")
	}
	return s, nil
}

// ClampResults bounds a requested result count to 1..MaxResults, treating
// non-positive values as the default.
func ClampResults(n int) int {
	switch {
	case n <= 0:
		return DefaultResults
	case n > MaxResults:
		return MaxResults
	default:
		return n
	}
}

// Search returns up to n results for query. A query that is itself an
// http(s) URL is fetched directly first.
func (s *Service) Search(ctx context.Context, query string, n int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errEmptyQuery
	}
	n = ClampResults(n)

	key := "search:" + strconv.Itoa(n) + ":" + strings.ToLower(query)
	if s.cache != nil && s.ttl > 0 {
		var cached []models.SearchResult
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !cache.IsMiss(err) {
			logger.Warn("search", "cache read failed", logger.Fields{"error": err.Error()})
		}
	}

	results, err := s.search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.SetJSON(ctx, key, results, s.ttl); err != nil {
			logger.Warn("search", "cache write failed", logger.Fields{"error": err.Error()})
		}
	}
	return results, nil
}

func (s *Service) search(ctx context.Context, query string, n int) ([]models.SearchResult, error) {
	if looksLikeURL(query) {
		if res, err := s.fetchURL(ctx, query); err == nil {
			return []models.SearchResult{res}, nil
		} else {
			logger.Warn("search", "url fetch failed", logger.Fields{"url": query, "error": err.Error()})
		}
	}

	payloadBytes, err := json.Marshal(map[string]any{"query": query, "num": n})
	if err != nil {
		return nil, fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	limited, empty := false, false
	for _, p := range []struct {
		name string
		tool tool.InvokableTool
	}{{"google", s.google}, {"duckduckgo", s.duck}} {
		if p.tool == nil {
			continue
		}
		if !s.limiter.Allow(p.name) {
			limited = true
			continue
		}
		out, err := p.tool.InvokableRun(ctx, payload)
		if err != nil {
			logger.Warn("search", p.name+" search failed", logger.Fields{"error": err.Error()})
			continue
		}
		results := ParseResults(out, p.name)
		if len(results) == 0 {
			logger.Debug("search", p.name+" returned no results", logger.Fields{"query": query})
			empty = true
			continue
		}
		if len(results) > n {
			results = results[:n]
		}
		return results, nil
	}
	switch {
	case empty:
		return nil, ErrNoResults
	case limited:
		return nil, ErrRateLimited
	default:
		return nil, ErrNoProvider
	}
}

// ParseResults extracts hits from a search tool's JSON output. Provider
// outputs differ in field names, so several paths are tried.
func ParseResults(out, source string) []models.SearchResult {
	if !gjson.Valid(out) {
		return nil
	}
	root := gjson.Parse(out)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	default:
		for _, path := range []string{"items", "results", "data", "organic_results"} {
			if r := root.Get(path); r.IsArray() {
				list = r
				break
			}
		}
	}
	if !list.Exists() {
		return nil
	}

	var results []models.SearchResult
	list.ForEach(func(_, item gjson.Result) bool {
		r := models.SearchResult{
			Title:   firstString(item, "title", "name"),
			Link:    firstString(item, "link", "url", "href"),
			Snippet: firstString(item, "snippet", "summary", "desc", "description", "body"),
			Source:  source,
		}
		if r.Link == "" && r.Title == "" {
			return true
		}
		results = append(results, r)
		return true
	})
	return results
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(item.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) fetchURL(ctx context.Context, target string) (models.SearchResult, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return models.SearchResult{}, errUnsupportedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return models.SearchResult{}, err
	}
	req.Header.Set("User-Agent", "vinochat-search/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.SearchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.SearchResult{}, fmt.Errorf("fetch url: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return models.SearchResult{}, err
	}
	text := strings.Join(strings.Fields(stripTags(string(body))), " ")
	title := parsed.Host
	if t := htmlTitle(string(body)); t != "" {
		title = t
	}
	return models.SearchResult{
		Title:   title,
		Link:    parsed.String(),
		Snippet: truncate(text, snippetLen),
		Source:  "url",
	}, nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
