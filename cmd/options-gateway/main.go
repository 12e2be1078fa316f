package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"optionchain/gateway/compat"
	"optionchain/gateway/config"
	"optionchain/gateway/middleware"
	"optionchain/gateway/routes"
	"optionchain/observability/logging"
	telemetry "optionchain/observability/otel"
)

func main() {
	var cfgPath string
	var compatModeFlag string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.StringVar(&compatModeFlag, "compat-mode", "", "override JSON-RPC compatibility mode (enabled|disabled)")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OPTIONCHAIN_ENV"))
	logger := logging.Setup("options-gateway", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	configDir := ""
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}

	if cfg.Observability.Tracing {
		insecureExport := true
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecureExport = parsed
			}
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: cfg.Observability.ServiceName,
			Environment: env,
			Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Insecure:    insecureExport,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Observability.Metrics,
			Traces:      true,
		})
		if err != nil {
			logger.Error("initialise telemetry", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	compatMode := compat.ModeEnabled
	modeSource := compatModeFlag
	if modeSource == "" {
		modeSource = os.Getenv("OPTIONS_GATEWAY_COMPAT_MODE")
	}
	if strings.TrimSpace(modeSource) != "" {
		parsed, err := compat.ParseMode(modeSource)
		if err != nil {
			logger.Error("parse compat mode", "error", err)
			os.Exit(1)
		}
		compatMode = parsed
	}

	nodeURL, err := cfg.Node.URL()
	if err != nil {
		logger.Error("node endpoint", "error", err)
		os.Exit(1)
	}
	secured, upgraded, err := config.EnforceSecureScheme(env, nodeURL, cfg.Security.AutoUpgradeHTTP)
	if err != nil {
		logger.Error("enforce HTTPS for node endpoint", "error", err)
		os.Exit(1)
	}
	if upgraded {
		logger.Info("auto-upgraded node endpoint to HTTPS")
	}
	nodeToken := strings.TrimSpace(os.Getenv("OPTIONS_GATEWAY_NODE_TOKEN"))

	client, err := routes.NewNodeClient(secured, nodeToken)
	if err != nil {
		logger.Error("configure node client", "error", err)
		os.Exit(1)
	}

	var compatHandler http.Handler
	if compatMode == compat.ModeEnabled {
		compatHandler = compat.NewForwarder(secured, nodeToken, compat.DefaultMethods).Handler()
	} else {
		logger.Info("JSON-RPC compatibility endpoint disabled")
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Tracing:       cfg.Observability.Tracing,
		Enabled:       cfg.Observability.Metrics,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.IsEnabled(),
		HMACSecret:     cfg.Auth.HMACSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AnonymousAllowed(),
		ClockSkew:      cfg.Auth.ClockSkew,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RatePerSecond: entry.RatePerSecond,
			Burst:         entry.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits[routes.RateKeyRead] = middleware.RateLimit{RatePerSecond: 10, Burst: 50}
		rateLimits[routes.RateKeyTrade] = middleware.RateLimit{RatePerSecond: 2, Burst: 10}
		rateLimits[routes.RateKeyAdmin] = middleware.RateLimit{RatePerSecond: 1, Burst: 5}
	}

	idem := middleware.NewIdempotency(middleware.IdempotencyConfig{
		TTL:        cfg.Idempotency.TTL,
		MaxEntries: cfg.Idempotency.MaxEntries,
	}, logger)

	router, err := routes.New(routes.Config{
		Client:        client,
		CompatHandler: compatHandler,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Observability: obs,
		Idempotency:   idem,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.HeaderIdempotencyKey},
			AllowCredentials: false,
		},
	})
	if err != nil {
		logger.Error("configure routes", "error", err)
		os.Exit(1)
	}

	tlsConfig, err := buildTLSConfig(configDir, cfg.Security)
	if err != nil {
		logger.Error("configure TLS", "error", err)
		os.Exit(1)
	}

	allowInsecure := cfg.Security.AllowInsecure || allowInsecureFlag
	if tlsConfig == nil {
		if !allowInsecure {
			logger.Error("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
			os.Exit(1)
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			logger.Error("plaintext gateway mode is restricted to loopback listeners or dev environment")
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if tlsConfig != nil {
		server.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		}
		logger.Info("listening", "url", fmt.Sprintf("%s://%s", scheme, listener.Addr()))
		var serveErr error
		if tlsConfig != nil {
			serveErr = server.Serve(tls.NewListener(listener, tlsConfig))
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("listen and serve", "error", serveErr)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolveTLSPath(baseDir, sec.TLSCertFile)
	keyPath := resolveTLSPath(baseDir, sec.TLSKeyFile)
	caPath := resolveTLSPath(baseDir, sec.TLSClientCAFile)
	if strings.TrimSpace(certPath) == "" && strings.TrimSpace(keyPath) == "" && strings.TrimSpace(caPath) == "" {
		return nil, nil
	}
	if strings.TrimSpace(certPath) == "" || strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if strings.TrimSpace(caPath) != "" {
		data, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse client CA file %s", caPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func resolveTLSPath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
