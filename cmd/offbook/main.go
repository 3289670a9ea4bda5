// Command offbook is the main entry point for the OffBook rehearsal server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/offbook/offbook/internal/config"
	"github.com/offbook/offbook/internal/health"
	"github.com/offbook/offbook/internal/observe"
	"github.com/offbook/offbook/internal/rehearsal"
	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/internal/server"
	"github.com/offbook/offbook/pkg/provider/stt"
	"github.com/offbook/offbook/pkg/provider/stt/scribe"
	"github.com/offbook/offbook/pkg/provider/tts"
	"github.com/offbook/offbook/pkg/provider/tts/elevenlabs"
	oaitts "github.com/offbook/offbook/pkg/provider/tts/openai"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level variable stays adjustable so config reloads can change it.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration (watched for changes) ──────────────────────────────
	var srv *server.Server
	watcher, err := config.NewWatcher(*configPath, func(_ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.CueWordChanged && srv != nil {
			srv.SetCueWord(d.NewCueWord)
			slog.Info("cue word changed", "cue_word", d.NewCueWord)
		}
		if d.RestartRequired {
			slog.Warn("configuration change requires a restart to take effect")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "offbook: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "offbook: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("offbook starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, ttsProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	scripts, attempts, checkers, cleanup, err := buildStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise storage", "err", err)
		return 1
	}
	defer cleanup()

	// ── Server ────────────────────────────────────────────────────────────────
	opts := []server.Option{
		server.WithAttemptStore(attempts),
		server.WithHealthCheckers(checkers...),
	}
	if cfg.Rehearsal.CueWord != "" {
		opts = append(opts, server.WithCueWord(cfg.Rehearsal.CueWord))
	}
	if cfg.Rehearsal.SampleRate != 0 {
		opts = append(opts, server.WithSampleRate(cfg.Rehearsal.SampleRate))
	}
	if tok := cfg.Server.Token; tok != nil {
		opts = append(opts, server.WithTokenMinter(
			server.NewTokenMinter(tok.Secret, tok.Issuer, tok.TTL.Std())))
	}
	srv = server.New(scripts, sttProvider, ttsProvider, opts...)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// OffBook into reg. Each factory receives a config.ProviderEntry and
// constructs the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("scribe", func(entry config.ProviderEntry) (stt.Provider, error) {
		tokens, err := scribeTokenSource(entry)
		if err != nil {
			return nil, err
		}
		var opts []scribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, scribe.WithEndpoint(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate != 0 {
			opts = append(opts, scribe.WithSampleRate(rate))
		}
		return scribe.New(tokens, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})
}

// scribeTokenSource picks the recognition credential strategy: a token
// endpoint when configured, otherwise the static API key.
func scribeTokenSource(entry config.ProviderEntry) (stt.TokenSource, error) {
	if url := optString(entry.Options, "token_url"); url != "" {
		return &stt.EndpointTokenSource{URL: url}, nil
	}
	if entry.APIKey != "" {
		return stt.StaticTokenSource(entry.APIKey), nil
	}
	return nil, errors.New("scribe needs an api_key or a token_url option")
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Provider, tts.Provider, error) {
	sttName := cfg.Providers.STT.Name
	if sttName == "" {
		return nil, nil, errors.New("providers.stt.name is required")
	}
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", sttName, err)
	}
	slog.Info("provider created", "kind", "stt", "name", sttName)

	ttsName := cfg.Providers.TTS.Name
	if ttsName == "" {
		return nil, nil, errors.New("providers.tts.name is required")
	}
	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("create tts provider %q: %w", ttsName, err)
	}
	slog.Info("provider created", "kind", "tts", "name", ttsName)

	return sttProvider, ttsProvider, nil
}

// buildStorage creates the script and attempt stores: PostgreSQL when a DSN
// is configured, in-memory otherwise. The returned cleanup closes the pool.
func buildStorage(ctx context.Context, cfg *config.Config) (script.Store, rehearsal.AttemptStore, []health.Checker, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		slog.Info("storage: in-memory (no postgres_dsn configured)")
		return script.NewMemoryStore(), rehearsal.NewMemoryAttemptStore(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	scripts := script.NewPostgresStore(pool)
	if err := scripts.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	attempts := rehearsal.NewPostgresAttemptStore(pool)
	if err := attempts.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	slog.Info("storage: postgres connected")

	checkers := []health.Checker{{
		Name:  "database",
		Check: pool.Ping,
	}}
	return scripts, attempts, checkers, pool.Close, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         OffBook — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	storage := "in-memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	fmt.Printf("║  Storage         : %-19s ║\n", storage)
	cue := cfg.Rehearsal.CueWord
	if cue == "" {
		cue = "action"
	}
	fmt.Printf("║  Cue word        : %-19s ║\n", cue)
	if cfg.Server.Token != nil {
		fmt.Printf("║  Token endpoint  : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Token endpoint  : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes integers as int; anything else yields zero.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
