package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulseworks/oura-mcp/cmd/mcp-server/auth"
	"github.com/pulseworks/oura-mcp/cmd/mcp-server/handlers"
	oauthserver "github.com/pulseworks/oura-mcp/cmd/mcp-server/oauth"
	"github.com/pulseworks/oura-mcp/internal/config"
	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/storage"
	"github.com/pulseworks/oura-mcp/pkg/mcp"
)

const (
	ServiceName    = "oura-mcp"
	ServiceVersion = "v1.0.0"
)

func main() {
	config.LoadEnv(".env")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("engine", cfg.Storage.Engine).Msg("opening token store failed")
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("engine", cfg.Storage.Engine).Msg("token store unreachable")
	}

	manager := oauth.NewManager(store, cfg.OAuth)
	go manager.RunSweeper(ctx)

	oauthSrv := oauthserver.NewServer(manager)
	ouraHandler := handlers.NewOuraHandler(manager)

	server := mcp.NewServer(ServiceName, ServiceVersion)
	for _, tool := range ouraHandler.ListTools() {
		server.RegisterTool(tool)
	}
	rpc := mcp.NewRPCServer(server, ouraHandler.HandleTool, auth.UserID)
	mcpHandler := auth.RequireAuth(manager, rpc.HandleMessage)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "version": ServiceVersion}
		code := http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/.well-known/oauth-authorization-server", oauthSrv.HandleAuthServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", oauthSrv.HandleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource/", oauthSrv.HandleProtectedResourceMetadata)

	mux.HandleFunc("/oauth/register", oauthSrv.HandleRegister)
	mux.HandleFunc("/oauth/authorize", oauthSrv.HandleAuthorize)
	mux.HandleFunc("/connect", oauthSrv.HandleConnectPage)
	mux.HandleFunc("/oauth/connect", oauthSrv.HandleConnectSubmit)
	mux.HandleFunc("/oauth/token", oauthSrv.HandleToken)
	mux.HandleFunc("/oauth/revoke", oauthSrv.HandleRevoke)
	mux.HandleFunc("/oauth/callback", oauthSrv.HandleCallback)
	if cfg.OAuth.EnableTestEndpoints {
		mux.HandleFunc("/oauth/test-token", oauthSrv.HandleTestToken)
		log.Warn().Msg("test endpoints are enabled")
	}

	mux.HandleFunc("/mcp", mcpHandler)
	mux.HandleFunc("/sse", auth.RequireAuth(manager, rpc.HandleSSE))

	// Some MCP clients post JSON-RPC to the bare root.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodPost {
			mcpHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":    ServiceName,
			"version": ServiceVersion,
			"mcp":     "/mcp",
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().
		Str("addr", cfg.Addr()).
		Str("issuer", cfg.OAuth.Issuer).
		Str("engine", cfg.Storage.Engine).
		Msg("starting server")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
