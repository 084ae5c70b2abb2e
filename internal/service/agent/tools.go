package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"vinochat/internal/logger"
	"vinochat/internal/service/search"
)

// ParseSelection reads the router's {"tool", "tool_input"} answer. Code
// fences and surrounding prose are tolerated; anything unusable selects
// respond.
func ParseSelection(raw string) (tool, input string) {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ToolRespond, ""
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return ToolRespond, ""
	}
	parsed := gjson.Parse(obj)
	tool = strings.ToLower(strings.TrimSpace(parsed.Get("tool").String()))
	input = strings.TrimSpace(parsed.Get("tool_input").String())
	switch tool {
	case ToolDocuments, ToolSearch, ToolWeather, ToolRespond:
		return tool, input
	default:
		return ToolRespond, ""
	}
}

func (s *Service) retrieveDocuments(ctx context.Context, st *turnState) (*turnState, error) {
	query := firstNonEmpty(st.ToolInput, st.User.Content)
	if s.tools.Retriever == nil {
		st.Context = "The wine knowledge base is not available."
		return st, nil
	}
	passages, err := s.tools.Retriever.Retrieve(ctx, query, topK)
	if err != nil {
		logger.Error("agent", "document retrieval failed", logger.Fields{"error": err.Error()})
		st.Context = "Error retrieving documents. Please try again."
		return st, nil
	}
	if len(passages) == 0 {
		st.Context = "No relevant documents were found in the knowledge base."
		return st, nil
	}
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("Document %d:\n%s", i+1, p.Content))
	}
	st.Context = strings.Join(parts, "\n\n")
	return st, nil
}

func (s *Service) searchWeb(ctx context.Context, st *turnState) (*turnState, error) {
	query := firstNonEmpty(st.ToolInput, st.User.Content)
	if s.tools.Searcher == nil {
		st.Context = "Web search is not available."
		return st, nil
	}
	results, err := s.tools.Searcher.Search(ctx, query, topK)
	if errors.Is(err, search.ErrNoResults) || (err == nil && len(results) == 0) {
		st.Context = "No search results were found."
		return st, nil
	}
	if err != nil {
		logger.Error("agent", "web search failed", logger.Fields{"error": err.Error()})
		st.Context = "Error performing web search. Please try again."
		return st, nil
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("Result %d: %s\nURL: %s\nSnippet: %s", i+1, r.Title, r.Link, r.Snippet))
	}
	st.Context = strings.Join(parts, "\n\n")
	return st, nil
}

func (s *Service) lookupWeather(ctx context.Context, st *turnState) (*turnState, error) {
	location := firstNonEmpty(st.ToolInput, st.Location, s.defaultLocation)
	if s.tools.Weather == nil {
		st.Context = "I couldn't retrieve the weather information. Weather service is not available."
		return st, nil
	}
	summary, _, err := s.tools.Weather.Summary(ctx, location)
	if err != nil {
		logger.Error("agent", "weather lookup failed", logger.Fields{"location": location, "error": err.Error()})
		st.Context = "I couldn't retrieve the weather information. " + errorSentence(err)
		return st, nil
	}
	st.Context = summary
	return st, nil
}

func errorSentence(err error) string {
	var msg string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "The weather service timed out"
	default:
		msg = err.Error()
	}
	msg = strings.TrimSpace(msg)
	if msg != "" && !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
