// Package agent answers chat turns by routing each user message to one of
// the knowledge base, web search or weather tools before responding.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"vinochat/internal/logger"
	"vinochat/internal/models"
)

const (
	ToolDocuments = "document_retrieval"
	ToolSearch    = "web_search"
	ToolWeather   = "weather"
	ToolRespond   = "respond"

	nodeRoute = "route"
	topK      = 3
)

var ErrNoModel = errors.New("chat model is not configured")

// ChatModel is the part of an eino chat model the agent needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]models.SearchResult, error)
}

type WeatherReporter interface {
	Summary(ctx context.Context, location string) (string, *models.WeatherReport, error)
}

// Tools groups the collaborators; any of them may be nil.
type Tools struct {
	Retriever Retriever
	Searcher  Searcher
	Weather   WeatherReporter
}

// turnState flows through every graph node.
type turnState struct {
	History   []models.Message
	User      models.Message
	Location  string
	Tool      string
	ToolInput string
	Context   string
	Response  string
}

type Service struct {
	model           ChatModel
	tools           Tools
	defaultLocation string
	runner          compose.Runnable[*turnState, *turnState]
}

// New compiles the routing graph. chatModel may be nil, in which case every
// turn fails with ErrNoModel.
func New(ctx context.Context, chatModel ChatModel, tools Tools, defaultLocation string) (*Service, error) {
	s := &Service{
		model:           chatModel,
		tools:           tools,
		defaultLocation: defaultLocation,
	}
	runner, err := s.compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile agent graph: %w", err)
	}
	s.runner = runner
	return s, nil
}

func (s *Service) compile(ctx context.Context) (compose.Runnable[*turnState, *turnState], error) {
	g := compose.NewGraph[*turnState, *turnState]()

	nodes := map[string]func(context.Context, *turnState) (*turnState, error){
		nodeRoute:     s.route,
		ToolDocuments: s.retrieveDocuments,
		ToolSearch:    s.searchWeb,
		ToolWeather:   s.lookupWeather,
		ToolRespond:   s.respond,
	}
	for key, fn := range nodes {
		if err := g.AddLambdaNode(key, compose.InvokableLambda(fn)); err != nil {
			return nil, err
		}
	}

	if err := g.AddEdge(compose.START, nodeRoute); err != nil {
		return nil, err
	}
	branch := compose.NewGraphBranch(func(ctx context.Context, st *turnState) (string, error) {
		return st.Tool, nil
	}, map[string]bool{
		ToolDocuments: true,
		ToolSearch:    true,
		ToolWeather:   true,
		ToolRespond:   true,
	})
	if err := g.AddBranch(nodeRoute, branch); err != nil {
		return nil, err
	}
	for _, tool := range []string{ToolDocuments, ToolSearch, ToolWeather} {
		if err := g.AddEdge(tool, ToolRespond); err != nil {
			return nil, err
		}
	}
	if err := g.AddEdge(ToolRespond, compose.END); err != nil {
		return nil, err
	}
	return g.Compile(ctx, compose.WithGraphName("vinochat_agent"))
}

// Chat answers the last user message of req with the rest as history.
func (s *Service) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	history, user, err := req.Split()
	if err != nil {
		return nil, err
	}
	if s.model == nil {
		return nil, ErrNoModel
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = s.defaultLocation
	}

	start := time.Now()
	out, err := s.runner.Invoke(ctx, &turnState{
		History:  history,
		User:     user,
		Location: location,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("agent", "turn answered", logger.Fields{
		"tool":     out.Tool,
		"history":  len(history),
		"duration": time.Since(start).String(),
	})

	resp := &models.ChatResponse{Response: out.Response, Context: out.Context}
	if out.Tool != ToolRespond {
		resp.ToolUsed = out.Tool
	}
	return resp, nil
}

func (s *Service) route(ctx context.Context, st *turnState) (*turnState, error) {
	st.Tool = ToolRespond
	msg, err := s.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(routePrompt),
		schema.UserMessage(st.User.Content),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("agent", "tool selection failed, answering directly", logger.Fields{"error": err.Error()})
		return st, nil
	}
	tool, input := ParseSelection(msg.Content)
	st.Tool, st.ToolInput = tool, input
	logger.Debug("agent", "selected tool", logger.Fields{"tool": tool, "input": input})
	return st, nil
}

func (s *Service) respond(ctx context.Context, st *turnState) (*turnState, error) {
	var system string
	switch st.Tool {
	case ToolDocuments:
		system = fmt.Sprintf(documentPrompt, st.Context)
	case ToolSearch:
		system = fmt.Sprintf(searchPrompt, st.Context)
	case ToolWeather:
		system = fmt.Sprintf(weatherPrompt, st.Context)
	default:
		system = defaultPrompt
	}

	input := make([]*schema.Message, 0, len(st.History)+2)
	input = append(input, schema.SystemMessage(system))
	input = append(input, convertMessages(st.History)...)
	input = append(input, schema.UserMessage(st.User.Content))

	msg, err := s.model.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	st.Response = strings.TrimSpace(msg.Content)
	if st.Response == "" {
		return nil, errors.New("generate response: empty completion")
	}
	return st, nil
}

func convertMessages(history []models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
