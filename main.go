// Command backend is the gift raffle wheel service. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured store (Postgres, Redis or memory) and runs migrations.
//   - Keeps the owner's YouTube access credential warm and, when POLL_AUTO_START
//     is set, polls the live chat for membership gifts in-process.
//   - Exposes the HTTP API used by the wheel front-end and external schedulers.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cadegiameos/Reaper-Gift-Wheel/access"
	"github.com/cadegiameos/Reaper-Gift-Wheel/bootstrap"
	"github.com/cadegiameos/Reaper-Gift-Wheel/chat"
	"github.com/cadegiameos/Reaper-Gift-Wheel/config"
	"github.com/cadegiameos/Reaper-Gift-Wheel/ledger"
	"github.com/cadegiameos/Reaper-Gift-Wheel/oauth"
	"github.com/cadegiameos/Reaper-Gift-Wheel/server"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
	"github.com/cadegiameos/Reaper-Gift-Wheel/youtubeapi"
)

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}
	if !cfg.OAuthReady() {
		slog.Warn("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set; access credentials cannot be refreshed")
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    "gift-wheel",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.TraceEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()
	backend.StartJanitor(ctx)

	sealer, err := bootstrap.Sealer(cfg)
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
		os.Exit(1)
	}

	s := backend.Store
	creds := oauth.NewCredentialStore(s, sealer)
	refresher := oauth.NewRefresher(creds, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenURL)
	refresher.SetTimeout(cfg.RemoteTimeout)
	gate := access.NewGate(s, refresher)

	if cfg.SeedRefreshToken != "" {
		if connected, err := refresher.Connected(ctx); err != nil {
			slog.Error("owner check failed", slog.Any("err", err))
			os.Exit(1)
		} else if !connected {
			// no editor session yet; the owner mints one via /owner/connect or connect-owner
			if err := refresher.SaveRefreshToken(ctx, cfg.SeedRefreshToken); err != nil {
				slog.Error("seeding YT_REFRESH_TOKEN failed", slog.Any("err", err))
				os.Exit(1)
			}
			slog.Info("owner refresh token seeded from YT_REFRESH_TOKEN")
		}
	}

	wheel := ledger.New(s, gate)
	if entries, err := wheel.List(ctx); err == nil {
		telemetry.SetWheelSize(len(entries))
	}
	channels := chat.NewChannelSelection(s, cfg.ChannelID)
	locator := chat.NewLocator(s, cfg.LiveChatCacheTTL, cfg.RemoteTimeout)
	yt := youtubeapi.New(cfg.YouTubeAPIBaseURL, cfg.RemoteTimeout)
	poller := chat.NewPoller(s, refresher, yt, locator, channels, wheel, chat.PollerConfig{
		DedupRetention:          cfg.DedupRetention,
		RemoteTimeout:           cfg.RemoteTimeout,
		RefreshFailureThreshold: cfg.RefreshFailureThreshold,
	})

	if cfg.OAuthReady() {
		oauth.StartRefresher(ctx, refresher, 10*time.Minute)
	}
	if cfg.PollAutoStart {
		chat.StartPoller(ctx, poller, cfg.PollInterval)
	} else {
		slog.Info("in-process poller disabled; trigger cycles via /poll (POLL_AUTO_START=1 to enable)")
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{
		Store:              s,
		Ledger:             wheel,
		Gate:               gate,
		Refresher:          refresher,
		Poller:             poller,
		Channels:           channels,
		YouTube:            yt,
		EditorCookieName:   cfg.EditorCookieName,
		EditorCookieSecure: cfg.EditorCookieSecure,
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
