package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vayu-advisor/server/internal/agent/graph"
	"github.com/vayu-advisor/server/internal/agent/graph/conversations"
	"github.com/vayu-advisor/server/internal/agent/graph/parsers"
	"github.com/vayu-advisor/server/internal/agent/graph/tools"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/repo"
	"github.com/vayu-advisor/server/internal/agent/responder"
	"github.com/vayu-advisor/server/internal/core"
	"github.com/vayu-advisor/server/internal/server"
	logx "github.com/vayu-advisor/server/pkg/logger"
	pkgredis "github.com/vayu-advisor/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	ServerAddr  string `envconfig:"SERVER_ADDR" default:":8080"`

	// Infrastructure
	Redis   pkgredis.Config
	Session model.SessionConfig

	// Model providers
	Model  model.ModelConfig
	OpenAI model.OpenAIConfig
	IBM    model.IBMConfig
	Gemini model.GeminiConfig

	// Data sources
	Weather model.WeatherConfig
	Medical model.MedicalConfig
}

func main() {
	ctx := context.Background()
	// Load .env file
	envErr := godotenv.Load(".env")

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment), Level: cfg.LogLevel})
	if envErr != nil {
		logx.Warn().Err(envErr).Msg("could not load .env file")
	}

	// Redis is only dialed when the session store needs it; the weather
	// cache shares the client.
	var rdb *goredis.Client
	if strings.EqualFold(cfg.Session.Store, "redis") {
		client, err := cfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("failed to initialise redis client")
		}
		defer client.Close()
		rdb = client
		logx.Info().Msg("connected to redis")
	}

	rcfg := responder.Config{
		Model:  cfg.Model,
		OpenAI: cfg.OpenAI,
		IBM:    cfg.IBM,
		Gemini: cfg.Gemini,
	}
	rsp := responder.New(rcfg)
	if _, _, err := responder.Resolve(rcfg, rsp.Defaults()); err != nil {
		logx.Fatal().Err(err).Msg("invalid model configuration")
	}

	var weather tools.WeatherProvider = tools.NewOpenMeteo(cfg.Weather, &http.Client{Timeout: cfg.Weather.Timeout})
	if rdb != nil && cfg.Weather.CacheTTL > 0 {
		weather = tools.NewCachedWeather(weather, rdb, cfg.Weather.CacheTTL)
	}

	var medical tools.MedicalSearcher
	if cfg.Medical.URL != "" {
		es, err := tools.NewElasticSearcher(cfg.Medical)
		if err != nil {
			logx.Fatal().Err(err).Msg("failed to create elasticsearch client")
		}
		medical = es
	} else {
		logx.Warn().Msg("ES_URL not set; medical research lookups are disabled")
	}

	machine, err := graph.NewMachine(ctx, graph.Config{
		Parser:    parsers.NewQueryParser(rsp),
		Tools:     tools.NewDispatcher(weather, medical, cfg.Medical.TopK),
		Responder: rsp,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build graph")
	}

	var store model.SessionStore = repo.NewMemorySessionStore()
	if rdb != nil {
		store = repo.NewRedisSessionStore(rdb, cfg.Session.TTL)
	}

	manager := conversations.NewManager(conversations.ManagerConfig{
		Store:           store,
		Runner:          machine,
		Defaults:        rsp.Defaults(),
		SelectorEnabled: rsp.SelectorEnabled(),
	})

	e := server.New(server.NewHandler(manager, rsp.SelectorEnabled(), rsp.Defaults()))

	go func() {
		if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	logx.Info().
		Str("addr", cfg.ServerAddr).
		Str("provider", cfg.Model.Provider).
		Bool("model_selector", cfg.Model.ShowModelSelector).
		Str("session_store", cfg.Session.Store).
		Msg("vayu server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logx.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("failed to shutdown http server gracefully")
	}
}
