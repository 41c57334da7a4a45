package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"custodia/config"
	"custodia/core"
	"custodia/core/events"
	"custodia/core/types"
	"custodia/observability/logging"
	"custodia/rpc"
	"custodia/services/settlement-gateway/server"
	"custodia/storage"
)

const gatewaySecretEnv = "CUSTODIA_GATEWAY_SECRET"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:   "custodiad",
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSize,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("failed to decode admin address", slog.Any("error", err))
		os.Exit(1)
	}

	node := core.NewNode(db,
		core.WithAdmin(admin),
		core.WithResponseWindow(cfg.ResponseWindowSeconds),
		core.WithTimelock(cfg.LockDurationSeconds, cfg.ClawbackDelaySeconds),
		core.WithEmitter(logEmitter{logger}),
	)

	rpcServer := rpc.NewServer(node, cfg.AuthTokenSecret, logger)
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
	}()

	gateway := server.New(server.Config{
		Node:      node,
		JWTSecret: gatewaySecret(cfg),
		RateLimit: rate.Limit(cfg.RateLimitPerSec),
		Burst:     cfg.RateLimitPerSec,
		Logger:    logger,
	})
	gatewayErrCh := make(chan error, 1)
	go func() {
		gatewayErrCh <- gateway.Start(cfg.GatewayAddress)
	}()

	logger.Info("custodiad running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("gateway", cfg.GatewayAddress),
		slog.String("backend", cfg.Backend))

	select {
	case err := <-rpcErrCh:
		logger.Error("RPC server terminated", slog.Any("error", err))
	case err := <-gatewayErrCh:
		logger.Error("gateway terminated", slog.Any("error", err))
	}
	os.Exit(1)
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	case config.BackendBolt:
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "custodia.db"))
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// gatewaySecret prefers the dedicated environment variable so the JWT secret
// can be rotated without touching the config file.
func gatewaySecret(cfg *config.Config) string {
	if secret := strings.TrimSpace(os.Getenv(gatewaySecretEnv)); secret != "" {
		return secret
	}
	return cfg.AuthTokenSecret
}

// logEmitter forwards engine events to the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if raw := payload.Event(); raw != nil {
			for key, value := range raw.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.log.Info("event emitted", attrs...)
}
