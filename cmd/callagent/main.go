package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-calls/internal/agent"
	"chat-calls/internal/auth"
	"chat-calls/internal/config"
	"chat-calls/internal/directory"
	"chat-calls/internal/groupcall"
	"chat-calls/internal/history"
	"chat-calls/internal/httpapi"
	"chat-calls/internal/media"
	"chat-calls/internal/signaling"
	"chat-calls/pkg/logger"
	"chat-calls/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	schema := append(append([]string{}, history.Schema...), directory.Schema...)
	if err := utils.EnsureSchema(rootCtx, db, schema...); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	peerID := cfg.Call.LocalPeerID
	joiner := media.NewJoiner(peerID, cfg.Call.JoinTimeout, mediaAdapters(cfg.Media, log)...)
	defer joiner.Close()

	recorder := history.NewRecorder(history.NewPostgresRepo(db), peerID)
	dir := directory.NewPostgres(db)
	groups := groupcall.NewRegistry(peerID, groupcall.NewRedisStore(rdb, 0), dir, joiner)

	callAgent := agent.New(agent.Config{
		PeerID:              peerID,
		DisplayName:         cfg.Call.DisplayName,
		RingTimeout:         cfg.Call.RingTimeout,
		GraceWindow:         cfg.Call.GraceWindow,
		GroupPollInterval:   cfg.Call.GroupPollInterval,
		DoNotDisturb:        cfg.Call.DoNotDisturb,
		PreferDecentralized: cfg.Call.PreferDecentralized,
	}, agent.Deps{
		Signaling: signaling.NewRedisStore(rdb, 0),
		Media:     joiner,
		History:   recorder,
		Groups:    groups,
	})

	agentCtx, stopAgent := context.WithCancel(rootCtx)
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		if err := callAgent.Run(agentCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("call agent stopped", "err", err)
			stop()
		}
	}()

	h := httpapi.Handlers{Auth: authManager, Agent: callAgent, History: recorder, Directory: dir}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/v1/ws"))

	registerPublicRoutes(r, db, callAgent)
	registerAuthRoutes(r, h)
	registerProtectedRoutes(r, h, authManager, peerID)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("call agent listening", "addr", srv.Addr, "env", cfg.App.Env, "peer_id", peerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// The agent ends any live call on the way out; wait for it before the
	// stores close.
	stopAgent()
	select {
	case <-agentDone:
	case <-shutdownCtx.Done():
		log.Warn("call agent did not stop in time")
	}
}

// mediaAdapters builds one adapter per configured provider.
func mediaAdapters(m config.MediaConfig, log *slog.Logger) []media.Adapter {
	var out []media.Adapter
	if m.CentralizedConfigured() {
		tokens := media.NewTokenIssuer(m.CentralizedAppID, m.CentralizedSecret, m.CentralizedTTL)
		out = append(out, media.NewCentralized(m.CentralizedURL, tokens, log))
	}
	if m.DecentralizedConfigured() {
		out = append(out, media.NewDecentralized(m.DecentralizedURL, log))
	}
	return out
}
