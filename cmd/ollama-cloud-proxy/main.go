// @title         Ollama Cloud Proxy
// @version       0.1.0
// @description   Load-balancing, key-rotating reverse proxy in front of Ollama Cloud

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ollamaproxy/internal/platform/config"
	perr "ollamaproxy/internal/platform/errors"
	"ollamaproxy/internal/platform/logger"
	phttp "ollamaproxy/internal/platform/net/http"
	"ollamaproxy/internal/platform/store"

	"ollamaproxy/internal/modkit/httpkit"
	"ollamaproxy/internal/modkit/repokit"

	"ollamaproxy/internal/services/api"
	"ollamaproxy/internal/services/proxy/dispatch"
	"ollamaproxy/internal/services/proxy/health"
	"ollamaproxy/internal/services/proxy/keystore"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/penalty"
	"ollamaproxy/internal/services/proxy/requestlog"
)

// defaultUpstream is Ollama Cloud's inference API, grounded on the original
// implementation's hardcoded OLLAMA_CLOUD_URL
const defaultUpstream = "https://ollama.com/api"

func main() {
	root := config.New()
	l := logger.Get()

	configPath := root.MayString("CONFIG_PATH", "config/config.yaml")
	keys := keystore.Load(configPath)

	upstream := root.MayString("UPSTREAM_BASE_URL", defaultUpstream)

	requireAuth := !root.MayBool("ALLOW_UNAUTHENTICATED_ACCESS", false)
	var authToken string
	if requireAuth {
		authToken = root.MustString("PROXY_AUTH_TOKEN")
	}
	authPort := httpkit.NewPortFunc(func(token string) (string, string, error) {
		if token != authToken {
			return "", "", perr.Unauthorizedf("invalid bearer token")
		}
		return "proxy", "", nil
	})

	st, err := store.Open(
		context.Background(),
		store.Config{
			AppName: "ollama-cloud-proxy",
			PG: store.PGConfig{
				Enabled: root.MayBool("PGSQL_ENABLED", false),
				URL:     root.MayString("PGSQL_URL", ""),
			},
			CH: store.CHConfig{
				Enabled: root.MayBool("CLICKHOUSE_ENABLED", false),
				URL:     root.MayString("CLICKHOUSE_URL", ""),
			},
		},
		store.WithLogger(*l),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	if st.PG != nil {
		if _, err := st.PG.Exec(context.Background(), requestlog.Schema); err != nil {
			l.Warn().Err(err).Msg("requestlog schema apply failed, continuing")
		}
	}

	var reqRepo requestlog.Repo
	if st.PG != nil {
		reqRepo = repokit.MustBind(requestlog.NewPG(), st.PG)
	}
	reqLog := requestlog.New(reqRepo, root.MayString("REQUEST_ARCHIVE_DIR", "data/requests"))

	usageLedger := ledger.New(st.CH)
	penalties := penalty.New()

	dispatcher := dispatch.New(keys, penalties, usageLedger, reqLog, upstream)
	healthWorker := health.New(keys, penalties, usageLedger, upstream)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go healthWorker.Run(ctx)

	// Ollama's own daemon conventionally listens on :11434; fall back to it
	// instead of the platform's generic :4000 when API_PORT is unset
	srv := phttp.NewServerWithDefault(root, ":11434")

	api.Mount(
		srv.Router(),
		api.Options{
			Config:         root,
			Store:          st,
			Logger:         l,
			EnableSwagger:  root.MayBool("SWAGGER", true),
			EnableProfiler: root.MayBool("PROFILER", false),
			Upstream:       upstream,
			Dispatcher:     dispatcher,
			Health:         healthWorker,
			Ledger:         usageLedger,
			RequestLog:     reqLog,
			AuthPort:       authPort,
			RequireAuth:    requireAuth,
		},
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	if err := srv.Run(context.Background()); err != nil && err != http.ErrServerClosed {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
