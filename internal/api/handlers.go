package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vinochat/internal/cache"
	"vinochat/internal/config"
	"vinochat/internal/logger"
	"vinochat/internal/models"
	"vinochat/internal/service/search"
	"vinochat/internal/service/weather"
	"vinochat/internal/web"
	"vinochat/internal/worker"
)

const (
	ServiceName = "vinochat"
	Version     = "1.0.0"
)

// ChatRunner executes chat turns, normally the worker dispatcher.
type ChatRunner interface {
	Submit(ctx context.Context, key string, req models.ChatRequest) (*models.ChatResponse, error)
}

type WeatherService interface {
	Summary(ctx context.Context, location string) (string, *models.WeatherReport, error)
}

type SearchService interface {
	Search(ctx context.Context, query string, n int) ([]models.SearchResult, error)
}

type KnowledgeBase interface {
	Reload(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// EventPublisher broadcasts knowledge base reloads to other instances.
type EventPublisher interface {
	Publish(ctx context.Context, ev cache.Event) error
}

// StatsProvider reports agent pool occupancy for the health endpoint.
type StatsProvider interface {
	Stats() worker.Stats
}

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Nil weather, search or
// knowledge services make their endpoints answer 503.
type Deps struct {
	Chat      ChatRunner
	Weather   WeatherService
	Search    SearchService
	Knowledge KnowledgeBase
	Events    EventPublisher
	Stats     StatsProvider
	Redis     Pinger
}

// Handler wires HTTP routes to the concierge services.
type Handler struct {
	cfg         *config.Config
	deps        Deps
	chatTimeout time.Duration
}

func NewHandler(cfg *config.Config, deps Deps) *Handler {
	timeout := time.Duration(cfg.BasicConfig.ChatTimeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{cfg: cfg, deps: deps, chatTimeout: timeout}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), AccessLog(), Recovery(), CORS(h.cfg.BasicConfig.CORSOrigins))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	router.StaticFS("/static", http.FS(web.Static()))

	limits := h.cfg.RateLimit
	api := router.Group("/api")
	api.POST("/chat", NewRateLimiter(limits.Chat).Middleware(), h.chat)
	api.GET("/weather", NewRateLimiter(limits.Weather).Middleware(), h.weather)

	general := NewRateLimiter(limits.Default).Middleware()
	api.GET("/search", general, h.search)
	api.POST("/documents/reload", general, h.reloadDocuments)
	api.POST("/documents/upload", general, h.reloadDocuments)
	api.GET("/health", general, h.health)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	})
}

func (h *Handler) index(c *gin.Context) {
	page, err := web.Index()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "chat page unavailable"})
		return
	}
	page = []byte(strings.Replace(string(page), `data-location="Napa,CA,US"`,
		`data-location="`+htmlAttr(h.cfg.BasicConfig.DefaultLocation)+`"`, 1))
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (h *Handler) chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if _, _, err := req.Split(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		req.Location = h.cfg.BasicConfig.DefaultLocation
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.chatTimeout)
	defer cancel()
	resp, err := h.deps.Chat.Submit(ctx, c.ClientIP(), req)
	if err != nil {
		status, detail := http.StatusInternalServerError, err.Error()
		switch {
		case errors.Is(err, worker.ErrPoolBusy):
			status, detail = http.StatusServiceUnavailable, "server is busy, please retry"
		case errors.Is(err, context.DeadlineExceeded):
			status, detail = http.StatusGatewayTimeout, "the concierge took too long to answer"
		}
		_ = c.Error(err)
		c.JSON(status, gin.H{"detail": detail})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) weather(c *gin.Context) {
	if h.deps.Weather == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather unavailable", "detail": "weather service is not configured"})
		return
	}
	location := strings.TrimSpace(c.Query("location"))
	if location == "" {
		location = h.cfg.BasicConfig.DefaultLocation
	}
	summary, report, err := h.deps.Weather.Summary(c.Request.Context(), location)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, weather.ErrNotConfigured):
			status = http.StatusServiceUnavailable
		case errors.Is(err, weather.ErrLocationNotFound):
			status = http.StatusNotFound
		}
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": err.Error(), "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"weather":     summary,
		"location":    report.Location,
		"temperature": report.Temperature,
		"condition":   report.Condition,
		"humidity":    report.Humidity,
		"wind_speed":  report.WindSpeed,
	})
}

func (h *Handler) search(c *gin.Context) {
	if h.deps.Search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "web search is not available"})
		return
	}
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "query is required"})
		return
	}
	n := search.DefaultResults
	if raw := c.Query("num_results"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "num_results must be a positive integer"})
			return
		}
		n = search.ClampResults(parsed)
	}

	results, err := h.deps.Search.Search(c.Request.Context(), query, n)
	if err != nil && !errors.Is(err, search.ErrNoResults) {
		status := http.StatusBadGateway
		if errors.Is(err, search.ErrRateLimited) {
			status = http.StatusTooManyRequests
			c.Header("Retry-After", "60")
		}
		_ = c.Error(err)
		c.JSON(status, gin.H{"detail": err.Error()})
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) reloadDocuments(c *gin.Context) {
	if h.deps.Knowledge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "knowledge base is not available"})
		return
	}
	count, err := h.deps.Knowledge.Reload(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if h.deps.Events != nil {
		if err := h.deps.Events.Publish(c.Request.Context(), cache.Event{Kind: "reload", Count: count}); err != nil {
			logger.Warn("api", "publish reload event failed", logger.Fields{"error": err.Error()})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Documents reloaded successfully",
		"document_count": count,
	})
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"service":     ServiceName,
		"version":     Version,
		"environment": h.cfg.BasicConfig.Environment,
	}
	if h.deps.Knowledge != nil {
		if n, err := h.deps.Knowledge.Count(c.Request.Context()); err == nil {
			body["documents"] = n
		}
	}
	if h.deps.Stats != nil {
		body["workers"] = h.deps.Stats.Stats()
	}
	if h.deps.Redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Redis.Ping(ctx); err != nil {
			logger.Warn("api", "redis ping failed", logger.Fields{"error": err.Error()})
			body["redis"] = "unavailable"
		} else {
			body["redis"] = "ok"
		}
	}
	c.JSON(http.StatusOK, body)
}

func htmlAttr(s string) string {
	return strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;").Replace(s)
}
