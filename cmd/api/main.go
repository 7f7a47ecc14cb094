package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/attune-labs/attune/backend/internal/config"
	"github.com/attune-labs/attune/backend/internal/escalation"
	"github.com/attune-labs/attune/backend/internal/feed"
	"github.com/attune-labs/attune/backend/internal/handler"
	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	"github.com/attune-labs/attune/backend/internal/service/compose"
	rewriteservice "github.com/attune-labs/attune/backend/internal/service/rewrite"
	toneservice "github.com/attune-labs/attune/backend/internal/service/tone"
	"github.com/attune-labs/attune/backend/internal/store"
	syncengine "github.com/attune-labs/attune/backend/internal/sync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Persistence: sqlite when a path is configured, memory otherwise.
	var st store.Store
	if cfg.Store.SQLitePath != "" {
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite store: %v", err)
		}
		log.Printf("sqlite store opened at %s", cfg.Store.SQLitePath)
	} else {
		st = store.NewMemory()
		log.Println("SQLITE_PATH not set, using in-memory store")
	}
	defer st.Close()

	// Change feed: NATS when configured, in-process broker otherwise.
	var source feed.Source
	var publisher feed.Publisher
	if cfg.Feed.NATSURL != "" {
		natsFeed, err := feed.ConnectNATS(cfg.Feed.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect NATS feed: %v", err)
		}
		defer natsFeed.Close()
		source, publisher = natsFeed, natsFeed
		log.Printf("NATS change feed connected at %s", cfg.Feed.NATSURL)
	} else {
		broker := feed.NewBroker()
		source, publisher = broker, broker
		log.Println("NATS_URL not set, using in-process change feed")
	}

	chatSvc := chatservice.NewService(st, publisher)

	// One shared chat model powers both tone classification and
	// rewrites; either feature degrades gracefully without it.
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing with heuristic tone analysis and no rewrites")
			chatModel = nil
		}
	} else {
		log.Println("ark credentials not configured, using heuristic tone analysis only")
	}

	toneSvc, err := toneservice.NewService(ctx, chatModel, toneservice.Config{
		Enabled:      cfg.AI.ToneLLMEnabled,
		HistoryLimit: cfg.AI.ToneHistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize tone classifier: %v", err)
	}
	if toneSvc.Enabled() {
		log.Println("remote tone classifier enabled")
	}

	var rewriteModel model.ChatModel
	if cfg.AI.RewriteEnabled {
		rewriteModel = chatModel
	}
	rewriteSvc, err := rewriteservice.NewService(ctx, rewriteModel)
	if err != nil {
		log.Fatalf("failed to initialize rewrite service: %v", err)
	}
	if rewriteSvc.Enabled() {
		log.Println("rewrite suggestions enabled")
	}

	pipeline := compose.NewPipeline(toneSvc, rewriteSvc, chatSvc)

	engine := syncengine.NewEngine(st, source, syncengine.Options{
		WatchdogInterval: cfg.Sync.WatchdogInterval,
		PollInterval:     cfg.Sync.PollInterval,
	})

	detector := escalation.New(escalation.Config{
		WindowSize:       cfg.Escalation.WindowSize,
		HostileThreshold: cfg.Escalation.HostileThreshold,
	})

	router := handler.NewRouter(chatSvc, pipeline, engine, detector, source)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Attune backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
