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

	"github.com/joho/godotenv"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	"github.com/zhouzirui/ai-show/backend/internal/handler"
	"github.com/zhouzirui/ai-show/backend/internal/handler/health"
	"github.com/zhouzirui/ai-show/backend/internal/handler/voice"
	"github.com/zhouzirui/ai-show/backend/internal/middleware"
	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/internal/observe"
	"github.com/zhouzirui/ai-show/backend/internal/service/agent"
	"github.com/zhouzirui/ai-show/backend/internal/service/ai"
	"github.com/zhouzirui/ai-show/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		log.Fatalf("failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			log.Printf("warning: metrics shutdown: %v", err)
		}
	}()

	interviewers, err := persona.Load(cfg.Personas.File)
	if err != nil {
		log.Fatalf("failed to load interviewer catalogue: %v", err)
	}
	log.Printf("loaded %d interviewers, default %s", len(interviewers.List()), interviewers.Default().Name)

	// Initialize interviewer prompt generator
	var prompts relay.InstructionSource
	if cfg.AI.Enabled() {
		svc, err := ai.NewInterviewerService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without interview sessions")
		} else {
			prompts = svc
			log.Printf("AI service initialized (provider=%s)", cfg.AI.Provider)
		}
	} else {
		log.Printf("%s 模型凭证未配置，面试会话不可用", cfg.AI.Provider)
	}

	agentClient := agent.NewClient(cfg.Agent)
	if !agentClient.Configured() {
		log.Println("DEEPGRAM_KEY 未配置，语音会话将返回配置错误")
	}

	origins := middleware.NewOrigins(cfg.Server.AllowedOrigins)
	registry := relay.NewRegistry()
	voiceHandler := voice.New(voice.Options{
		Upstream: agentClient,
		Prompts:  prompts,
		Builder:  agent.NewBuilder(interviewers, cfg.Agent),
		Registry: registry,
		Agent:    cfg.Agent,
		Origins:  origins,
	})

	healthHandler := health.New(cfg.Telemetry.ServiceName,
		health.Require("agent", agentClient.Configured, "DEEPGRAM_KEY not set"),
		health.Require("prompts", func() bool { return prompts != nil }, "prompt generator unavailable"),
		health.Require("interviewers", func() bool { return len(interviewers.List()) > 0 }, "catalogue empty"),
	)

	router := handler.NewRouter(interviewers, voiceHandler, healthHandler, origins)

	startServer(ctx, cfg.Server, router, registry)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, registry *relay.Registry) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// 被劫持的 WebSocket 连接不受 Shutdown 管理，需要单独关闭
	srv.RegisterOnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.CloseAll(shutdownCtx); err != nil {
			log.Printf("warning: %d sessions still open at shutdown: %v", registry.Len(), err)
		}
	})

	log.Printf("AI Show backend listening on %s", addr)
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
