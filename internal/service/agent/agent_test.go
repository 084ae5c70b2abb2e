package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinochat/internal/models"
	"vinochat/internal/service/search"
)

// scriptedModel answers the routing prompt with route and everything else
// with reply, recording the respond-step input.
type scriptedModel struct {
	mu         sync.Mutex
	route      string
	routeErr   error
	reply      string
	replyErr   error
	lastSystem string
	lastInput  []*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(input) > 0 && input[0].Content == routePrompt {
		if m.routeErr != nil {
			return nil, m.routeErr
		}
		return schema.AssistantMessage(m.route, nil), nil
	}
	m.lastSystem = input[0].Content
	m.lastInput = input
	if m.replyErr != nil {
		return nil, m.replyErr
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

type fakeRetriever struct {
	query    string
	passages []models.Passage
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error) {
	f.query = query
	return f.passages, f.err
}

type fakeSearcher struct {
	query   string
	results []models.SearchResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, n int) ([]models.SearchResult, error) {
	f.query = query
	return f.results, f.err
}

type fakeWeather struct {
	location string
	err      error
}

func (f *fakeWeather) Summary(ctx context.Context, location string) (string, *models.WeatherReport, error) {
	f.location = location
	if f.err != nil {
		return "", nil, f.err
	}
	return "Current weather in " + location + ": Sunny.", &models.WeatherReport{Location: location}, nil
}

func chatRequest(history ...string) models.ChatRequest {
	var msgs []models.Message
	for i, h := range history {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Message{Role: role, Content: h})
	}
	return models.ChatRequest{Messages: msgs}
}

func newTestAgent(t *testing.T, m ChatModel, tools Tools) *Service {
	t.Helper()
	svc, err := New(context.Background(), m, tools, "Napa,CA,US")
	require.NoError(t, err)
	return svc
}

func TestChatDocumentRetrieval(t *testing.T) {
	m := &scriptedModel{
		route: "```json\n{\"tool\": \"document_retrieval\", \"tool_input\": \"salmon pairing\"}\n```",
		reply: "Try a Pinot Noir.",
	}
	r := &fakeRetriever{passages: []models.Passage{{Content: "Pinot Noir loves salmon."}, {Content: "Rosé works too."}}}
	svc := newTestAgent(t, m, Tools{Retriever: r})

	resp, err := svc.Chat(context.Background(), chatRequest("Hi", "Hello!", "What goes with salmon?"))
	require.NoError(t, err)
	assert.Equal(t, "Try a Pinot Noir.", resp.Response)
	assert.Equal(t, ToolDocuments, resp.ToolUsed)
	assert.Equal(t, "Document 1:\nPinot Noir loves salmon.\n\nDocument 2:\nRosé works too.", resp.Context)
	assert.Equal(t, "salmon pairing", r.query)

	assert.True(t, strings.HasPrefix(m.lastSystem, "You are a knowledgeable wine concierge."))
	assert.Contains(t, m.lastSystem, "Document 1:\nPinot Noir loves salmon.")
	// system + two history messages + user
	require.Len(t, m.lastInput, 4)
	assert.Equal(t, schema.Assistant, m.lastInput[2].Role)
	assert.Equal(t, "What goes with salmon?", m.lastInput[3].Content)
}

func TestChatWebSearchFormatsResults(t *testing.T) {
	m := &scriptedModel{route: `{"tool":"web_search","tool_input":"Opus One 2020 reviews"}`, reply: "It scored 98."}
	s := &fakeSearcher{results: []models.SearchResult{{Title: "Review", Link: "https://r.example", Snippet: "98 points"}}}
	svc := newTestAgent(t, m, Tools{Searcher: s})

	resp, err := svc.Chat(context.Background(), chatRequest("Find reviews for Opus One 2020"))
	require.NoError(t, err)
	assert.Equal(t, ToolSearch, resp.ToolUsed)
	assert.Equal(t, "Result 1: Review\nURL: https://r.example\nSnippet: 98 points", resp.Context)
	assert.Equal(t, "Opus One 2020 reviews", s.query)
}

func TestChatWebSearchWithNoResults(t *testing.T) {
	for name, s := range map[string]*fakeSearcher{
		"sentinel": {err: fmt.Errorf("duckduckgo: %w", search.ErrNoResults)},
		"empty":    {},
	} {
		t.Run(name, func(t *testing.T) {
			m := &scriptedModel{route: `{"tool":"web_search","tool_input":"obscure cuvée"}`, reply: "I couldn't find anything."}
			svc := newTestAgent(t, m, Tools{Searcher: s})

			resp, err := svc.Chat(context.Background(), chatRequest("Look up an obscure cuvée"))
			require.NoError(t, err)
			assert.Equal(t, ToolSearch, resp.ToolUsed)
			assert.Equal(t, "No search results were found.", resp.Context)
			assert.Contains(t, m.lastSystem, resp.Context)
		})
	}
}

func TestChatWeatherUsesRequestLocationWhenInputEmpty(t *testing.T) {
	m := &scriptedModel{route: `{"tool":"weather","tool_input":""}`, reply: "Sunny, have a rosé."}
	w := &fakeWeather{}
	svc := newTestAgent(t, m, Tools{Weather: w})

	req := chatRequest("Weather?")
	req.Location = "Sonoma,CA,US"
	resp, err := svc.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Sonoma,CA,US", w.location)
	assert.Equal(t, ToolWeather, resp.ToolUsed)

	_, err = svc.Chat(context.Background(), chatRequest("Weather?"))
	require.NoError(t, err)
	assert.Equal(t, "Napa,CA,US", w.location)
}

func TestChatToolFailureDegradesToContext(t *testing.T) {
	m := &scriptedModel{route: `{"tool":"weather","tool_input":"Napa"}`, reply: "Sorry, no weather right now."}
	svc := newTestAgent(t, m, Tools{Weather: &fakeWeather{err: errors.New("weather service is not configured")}})

	resp, err := svc.Chat(context.Background(), chatRequest("Weather in Napa?"))
	require.NoError(t, err)
	assert.Equal(t, "I couldn't retrieve the weather information. weather service is not configured.", resp.Context)
	assert.Contains(t, m.lastSystem, resp.Context)
}

func TestChatRouteFailureFallsBackToRespond(t *testing.T) {
	m := &scriptedModel{routeErr: errors.New("rate limited"), reply: "Hello there!"}
	svc := newTestAgent(t, m, Tools{})

	resp, err := svc.Chat(context.Background(), chatRequest("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", resp.Response)
	assert.Empty(t, resp.ToolUsed)
	assert.Equal(t, defaultPrompt, m.lastSystem)
}

func TestChatMissingToolIsReported(t *testing.T) {
	m := &scriptedModel{route: `{"tool":"document_retrieval","tool_input":"x"}`, reply: "ok"}
	svc := newTestAgent(t, m, Tools{})
	resp, err := svc.Chat(context.Background(), chatRequest("Tell me about Barolo"))
	require.NoError(t, err)
	assert.Equal(t, "The wine knowledge base is not available.", resp.Context)
}

func TestChatGenerationFailureIsError(t *testing.T) {
	m := &scriptedModel{route: `{"tool":"respond"}`, replyErr: errors.New("upstream timeout")}
	svc := newTestAgent(t, m, Tools{})
	_, err := svc.Chat(context.Background(), chatRequest("Hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestChatValidatesRequestAndModel(t *testing.T) {
	svc := newTestAgent(t, &scriptedModel{}, Tools{})
	_, err := svc.Chat(context.Background(), models.ChatRequest{})
	assert.Error(t, err)

	noModel := newTestAgent(t, nil, Tools{})
	_, err = noModel.Chat(context.Background(), chatRequest("Hi"))
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		raw, tool, input string
	}{
		{`{"tool":"weather","tool_input":"Napa,CA,US"}`, ToolWeather, "Napa,CA,US"},
		{"Sure!\n```json\n{\"tool\": \"WEB_SEARCH\", \"tool_input\": \"q\"}\n```", ToolSearch, "q"},
		{`{"tool":"calculator","tool_input":"1+1"}`, ToolRespond, ""},
		{`not json at all`, ToolRespond, ""},
		{`{"tool":`, ToolRespond, ""},
	}
	for _, tc := range cases {
		tool, input := ParseSelection(tc.raw)
		assert.Equal(t, tc.tool, tool, tc.raw)
		assert.Equal(t, tc.input, input, tc.raw)
	}
}
