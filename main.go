package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mtgpricer/cardbridge/internal/cache"
	"github.com/mtgpricer/cardbridge/internal/config"
	"github.com/mtgpricer/cardbridge/internal/observe"
	"github.com/mtgpricer/cardbridge/internal/pricing"
	"github.com/mtgpricer/cardbridge/internal/scryfall"
	"github.com/mtgpricer/cardbridge/internal/secrets"
	"github.com/mtgpricer/cardbridge/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(ctx context.Context, cfg config.Config) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. All of the API's inputs arrive as query parameters.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter, crossOrigin, requestLog)

	// setup card handlers and dependencies
	cards, err := scryfall.New(cfg.Cards)
	if err != nil {
		return nil, fmt.Errorf("card API configuration failed: %w", err)
	}

	responseCache, err := cache.NewMemory[[]byte](
		time.Duration(cfg.Cards.CacheTTLSeconds)*time.Second, 10_000,
	)
	if err != nil {
		return nil, fmt.Errorf("response cache configuration failed: %w", err)
	}

	mux.Handle("GET /search", standardRouteMiddleware.Then(handleCardSearch(cards, responseCache)))
	mux.Handle("GET /autocomplete", standardRouteMiddleware.Then(handleAutocomplete(cards)))
	mux.Handle("GET /sets", standardRouteMiddleware.Then(handleCardSets(cards, responseCache)))
	mux.Handle("GET /card", standardRouteMiddleware.Then(handleCard(cards, responseCache)))

	// pricing is optional: without credentials the route reports unavailable
	// and the healthcheck reports degraded
	var prices *pricing.Client
	if cfg.Pricing.PricingEnabled() {
		provider, err := credentialProvider(ctx, cfg.Pricing)
		if err != nil {
			return nil, fmt.Errorf("pricing credential configuration failed: %w", err)
		}

		prices, err = pricing.New(cfg.Pricing, provider)
		if err != nil {
			return nil, fmt.Errorf("pricing API configuration failed: %w", err)
		}
	}
	mux.Handle("GET /pricing", standardRouteMiddleware.Then(handlePricing(prices)))

	// preflight requests can hit any route
	muxWithoutTelemetry.Handle("OPTIONS /", standardRouteMiddleware.Then(handlePreflight()))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck(cards, cfg.Pricing.PricingEnabled())))

	// anything unrouted gets a helpful error rather than a bare 404
	muxWithoutTelemetry.Handle("/", standardRouteMiddleware.Then(handleUnknownEndpoint()))

	return mux, nil
}

// credentialProvider selects the pricing credential source configured for
// this deployment.
func credentialProvider(ctx context.Context, cfg config.PricingConfig) (secrets.Provider, error) {
	switch cfg.CredentialSource {
	case "secretsmanager":
		return secrets.NewSecretsManagerProvider(ctx, cfg.SecretName)
	case "kms-env":
		return secrets.NewKMSProvider(ctx, cfg.PublicKeyEncrypted, cfg.PrivateKeyEncrypted)
	default:
		return nil, fmt.Errorf("unknown credential source %q", cfg.CredentialSource)
	}
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// start the server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	hooks := &server.ShutdownHooks{}
	hooks.AddContext("telemetry", shutdownTelemetry)

	err = serveHTTP(cfg.Server, httpServer, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// serveHTTP runs the server until it fails or a termination signal arrives,
// then shuts down gracefully within the configured timeout. Shutdown hooks
// run after in-flight requests complete.
func serveHTTP(cfg config.ServerConfig, httpServer *http.Server, hooks *server.ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("server starting")
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}

	hooks.Execute(shutdownCtx)

	log.Info().Msg("server stopped")
	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
