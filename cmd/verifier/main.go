package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jmerrifield20/GreenLedger/internal/verifier"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const serviceName = "greenledger.verifier"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("verifier exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("verifier")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("verifier.grpc_port", 9090)
	viper.SetDefault("verifier.http_port", 9091)
	viper.SetDefault("verifier.ledger_addr", "http://localhost:8080")
	viper.SetDefault("verifier.cache_ttl_seconds", 60)
	viper.SetDefault("verifier.http_timeout_seconds", 5)
	viper.SetDefault("verifier.eviction_interval_seconds", 60)
	viper.SetDefault("verifier.probe_interval_seconds", 30)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	grpcPort := viper.GetInt("verifier.grpc_port")
	httpPort := viper.GetInt("verifier.http_port")
	ledgerAddr := viper.GetString("verifier.ledger_addr")
	cacheTTL := time.Duration(viper.GetInt("verifier.cache_ttl_seconds")) * time.Second
	httpTimeout := time.Duration(viper.GetInt("verifier.http_timeout_seconds")) * time.Second
	evictionInterval := time.Duration(viper.GetInt("verifier.eviction_interval_seconds")) * time.Second
	probeInterval := time.Duration(viper.GetInt("verifier.probe_interval_seconds")) * time.Second

	// ── Verifier service ─────────────────────────────────────────────────────
	svc, err := verifier.New(verifier.Config{
		LedgerAddr:  ledgerAddr,
		CacheTTL:    cacheTTL,
		HTTPTimeout: httpTimeout,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.StartCacheEviction(ctx, evictionInterval)

	// ── gRPC server (health + reflection) ────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	go probeLedger(ctx, svc, healthSvc, probeInterval, logger)

	// ── REST gateway ─────────────────────────────────────────────────────────
	gwMux := runtime.NewServeMux()
	if err := svc.RegisterGateway(gwMux); err != nil {
		return fmt.Errorf("register gateway routes: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/", gwMux)
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","service":"verifier"}`)
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ───────────────────────────────────────────────────
	go func() {
		logger.Info("verifier gRPC listening",
			zap.Int("port", grpcPort),
			zap.String("ledger", ledgerAddr),
			zap.Duration("cache_ttl", cacheTTL),
		)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("verifier HTTP/JSON gateway listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down verifier...")

	healthSvc.Shutdown()
	grpcServer.GracefulStop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP gateway shutdown", zap.Error(err))
	}

	logger.Info("verifier stopped")
	return nil
}

// probeLedger keeps the gRPC health status in step with ledgerd's reachability.
func probeLedger(ctx context.Context, svc *verifier.Service, hs *health.Server, interval time.Duration, logger *zap.Logger) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := svc.Ping(pctx); err != nil {
			logger.Warn("ledgerd unreachable", zap.Error(err))
			hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return
		}
		hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
