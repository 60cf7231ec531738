package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablevault/native/vault"
	"stablevault/observability/logging"
	telemetry "stablevault/observability/otel"
	"stablevault/services/vaultd/adapters"
	"stablevault/services/vaultd/config"
	"stablevault/services/vaultd/server"
	"stablevault/services/vaultd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))
	logging.Setup("vaultd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}
	params, err := cfg.VaultParams()
	if err != nil {
		log.Fatalf("vaultd: vault params: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("vaultd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open storage: %v", err)
	}
	defer store.Close()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.Chain.PrivateKey), "0x"))
	if err != nil {
		log.Fatalf("vaultd: parse signing key: %v", err)
	}

	ctx := context.Background()
	router, err := adapters.NewUniswapRouter(ctx, cfg.Chain.RPCURL, common.HexToAddress(cfg.Chain.Router), key, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		log.Fatalf("vaultd: dial exchange router: %v", err)
	}
	defer router.Close()
	if cfg.Chain.ConfirmTimeout.Duration > 0 {
		router.SetConfirmTimeout(cfg.Chain.ConfirmTimeout.Duration)
	}

	engine, err := vault.NewEngine(ctx, params, store, router, router, router.Account())
	if err != nil {
		log.Fatalf("vaultd: build engine: %v", err)
	}
	if cfg.Chain.SwapDeadline.Duration > 0 {
		engine.SetSwapDeadline(cfg.Chain.SwapDeadline.Duration)
	}
	if cfg.Vault.Paused {
		if err := engine.Pause(params.Admin); err != nil {
			log.Fatalf("vaultd: apply paused state: %v", err)
		}
	}

	srv, err := server.New(server.Config{
		AdminToken: cfg.AdminToken,
		AdminAddr:  params.Admin,
	}, engine, slog.Default())
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Router(), "vaultd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("vaultd listening", "address", cfg.ListenAddress, "bridge", engine.BridgeAsset().Hex())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("vaultd: http server error: %v", err)
	}
}
