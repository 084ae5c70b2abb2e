package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vinochat/internal/api"
	"vinochat/internal/cache"
	"vinochat/internal/config"
	"vinochat/internal/logger"
	"vinochat/internal/service/agent"
	"vinochat/internal/service/knowledge"
	"vinochat/internal/service/search"
	"vinochat/internal/service/weather"
	"vinochat/internal/storage"
	"vinochat/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("VINOCHAT_CONFIG"))
	if err != nil {
		logger.Fatal("main", "load config", logger.Fields{"error": err.Error()})
	}
	logger.Setup(cfg.BasicConfig.LogLevel, !cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.BasicConfig.Database, cfg)
	if err != nil {
		logger.Fatal("main", "open database", logger.Fields{"error": err.Error()})
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		logger.Fatal("main", "migrate database", logger.Fields{"error": err.Error()})
	}

	store, rdb := cache.Open(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	kb, err := knowledge.New(ctx, db, cfg.BasicConfig.DataDir)
	if err != nil {
		logger.Fatal("main", "init knowledge base", logger.Fields{"error": err.Error()})
	}
	if n, err := kb.Reload(ctx); err != nil {
		logger.Warn("main", "initial document load failed", logger.Fields{"error": err.Error()})
	} else {
		logger.Info("main", "knowledge base loaded", logger.Fields{"documents": n, "dir": cfg.BasicConfig.DataDir})
	}

	weatherSvc := weather.New(cfg, store)
	if !weatherSvc.Configured() {
		logger.Warn("main", "OPENWEATHER_API_KEY not set, weather is disabled", nil)
	}

	deps := api.Deps{Weather: weatherSvc, Knowledge: kb}
	if rdb != nil {
		deps.Redis = rdb
	}
	tools := agent.Tools{Retriever: kb, Weather: weatherSvc}
	searchSvc, err := search.New(ctx, cfg, store)
	if err != nil {
		logger.Warn("main", "web search disabled", logger.Fields{"error": err.Error()})
	} else {
		deps.Search = searchSvc
		tools.Searcher = searchSvc
	}

	var chatModel agent.ChatModel
	if m, err := agent.NewChatModel(ctx, cfg); err != nil {
		logger.Warn("main", "chat model unavailable, chat will fail", logger.Fields{"provider": cfg.Agent.Provider, "error": err.Error()})
	} else {
		chatModel = m
	}
	concierge, err := agent.New(ctx, chatModel, tools, cfg.BasicConfig.DefaultLocation)
	if err != nil {
		logger.Fatal("main", "init agent", logger.Fields{"error": err.Error()})
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	}, concierge)
	defer dispatcher.Close()
	deps.Chat = dispatcher
	deps.Stats = dispatcher

	// other instances reload when one of them reloads the knowledge base
	notifier := cache.NewNotifier(rdb, uuid.NewString())
	notifier.Listen(ctx, func(ev cache.Event) {
		if ev.Kind != "reload" {
			return
		}
		n, err := kb.Reload(ctx)
		if err != nil {
			logger.Error("main", "reload from peer event failed", logger.Fields{"origin": ev.Origin, "error": err.Error()})
			return
		}
		logger.Info("main", "knowledge base reloaded by peer", logger.Fields{"origin": ev.Origin, "documents": n})
	})
	if rdb != nil {
		deps.Events = notifier
	}

	handler := api.NewHandler(cfg, deps)
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("main", "server listening", logger.Fields{"addr": srv.Addr, "environment": cfg.BasicConfig.Environment})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("main", "server stopped", logger.Fields{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("main", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("main", "graceful shutdown failed", logger.Fields{"error": err.Error()})
	}
}
