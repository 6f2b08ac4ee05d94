// procschedd runs the multi-level process scheduler as a daemon.
//
// It boots the kernel with an init process that keeps a CPU-bound workload
// running, exposes Prometheus metrics over HTTP and serves KernelService
// over gRPC for schedctl.
//
// Usage:
//
//	go run ./cmd                              # defaults, :50061
//	go run ./cmd -config procsched.yaml       # YAML config plus PROCSCHED_* env
//	go run ./cmd -addr :8080 -workers 8       # overrides
//	go run ./cmd -print-config                # effective config as YAML
//	go build -o procschedd ./cmd && ./procschedd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/procsched/coreengine/config"
	"github.com/jeeves-cluster-organization/procsched/coreengine/grpc"
	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "procschedd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "gRPC server address (overrides config)")
	workers := flag.Int("workers", 4, "CPU-bound workers per batch")
	work := flag.Int("work", 2_000_000, "loop iterations per worker")
	rest := flag.Int("rest", 100, "ticks between batches")
	printCfg := flag.Bool("print-config", false, "print the effective config as YAML and exit")
	flag.Parse()

	cfg, err := config.LoadCoreConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.GRPCAddress = *addr
	}
	if *printCfg {
		return printConfig(os.Stdout, cfg)
	}
	config.SetCoreConfig(cfg)

	logger := observability.NewLogrusLogger(cfg.LogLevel, nil)
	logger.Info("procschedd_starting",
		"grpc_address", cfg.GRPCAddress,
		"metrics_address", cfg.MetricsAddress,
		"num_cpu", cfg.NumCPU,
		"max_processes", cfg.MaxProcesses,
	)

	tracing := observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
		Attributes: map[string]string{
			"procsched.num_cpu":       strconv.Itoa(cfg.NumCPU),
			"procsched.max_processes": strconv.Itoa(cfg.MaxProcesses),
		},
	}
	if cfg.TracingStdout {
		tracing.Stdout = os.Stdout
	}
	shutdownTracer, err := observability.InitTracer(tracing)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kernel
	k := kernel.NewKernel(logger.With("component", "kernel"), cfg)
	load := workload{workers: *workers, work: *work, rest: *rest}
	if _, err := k.UserInit("init", load.initProgram); err != nil {
		return fmt.Errorf("user init: %w", err)
	}
	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}

	// Metrics
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_error", "error", err.Error())
		}
	}()

	// gRPC
	grpcLogger := logger.With("component", "grpc")
	limiter := grpc.NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
	server, err := grpc.NewGracefulServer(
		grpc.NewKernelServer(grpcLogger, k),
		cfg.GRPCAddress,
		grpc.ServerOptions(grpcLogger, grpc.RateLimitInterceptor(limiter, grpc.MutatingMethods...))...,
	)
	if err != nil {
		return err
	}
	logger.Info("procschedd_ready", "boot_id", k.BootID())

	serveErr := server.Start(ctx)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logger.Error("grpc_server_failed", "error", serveErr.Error())
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := k.Shutdown(shutdownCtx); err != nil {
		logger.Warn("kernel_shutdown_incomplete", "error", err.Error())
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics_shutdown_failed", "error", err.Error())
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer_shutdown_failed", "error", err.Error())
	}
	logger.Info("procschedd_stopped")

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// printConfig writes cfg in the YAML form -config accepts.
func printConfig(w io.Writer, cfg *config.CoreConfig) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// metricsMux serves /metrics and a liveness probe.
func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
