package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/mdmahbub/amarkotha/analysis"
	"github.com/mdmahbub/amarkotha/internal/app"
	"github.com/mdmahbub/amarkotha/internal/config"
	"github.com/mdmahbub/amarkotha/internal/infra/database"
	"github.com/mdmahbub/amarkotha/internal/infra/docstore"
	"github.com/mdmahbub/amarkotha/internal/infra/identity"
	"github.com/mdmahbub/amarkotha/internal/present/rest"
	"github.com/mdmahbub/amarkotha/internal/present/rest/middleware"
	"github.com/mdmahbub/amarkotha/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly
	godotenv.Load()

	configPath := os.Getenv("AMARKOTHA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, cfg.Server.TraceEndpoint)
		if err != nil {
			slog.Error("Failed to setup tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(cfg.Server.PostgresDsn)
	if err != nil {
		slog.Error("Failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error("Failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(cfg.Server.RedisAddr, cfg.Server.RedisPassword, cfg.Server.RedisDB)
	mc := database.NewMemcached(cfg.Server.MemcachedAddr)

	signal := service.NewSignalService(rdb)
	st := docstore.NewDocStore(db, mc, signal)
	st.Start(ctx)

	tokenTTL := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	provider := identity.NewProvider(db, cfg.Auth.JWTSecret, tokenTTL)

	analyzer := analysis.New(cfg.Analysis.Endpoint, cfg.Analysis.APIKey, cfg.Analysis.Model)

	a := app.New(st, provider, analyzer, cfg.Site.AdminEmail)
	if err := a.Start(ctx); err != nil {
		slog.Error("Failed to start app", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	e := echo.New()
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if cfg.Server.EnableTrace {
		e.Use(otelecho.Middleware("amarkotha"))
	}

	h := rest.NewHandler(a, analyzer)
	authMW := middleware.NewAuthMiddleware(provider, a, cfg.Site.AdminEmail)
	h.RegisterRoutes(e, authMW)

	e.Logger.Fatal(e.Start(cfg.Server.Bind))
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	resource := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("amarkotha"),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
	)
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shutdown trace provider", slog.String("error", err.Error()))
		}
	}, nil
}
