// Command capitalize-server serves Fetch.Capitalize on the framed transport and, when
// configured, over gRPC as /rpc.Fetch/Capitalize. SIGINT or SIGTERM stops it gracefully.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"capitalize/config"
	"capitalize/grpctransport"
	"capitalize/instrument"
	"capitalize/logging"
	"capitalize/middleware"
	"capitalize/registry"
	"capitalize/server"
	"capitalize/service"
	"capitalize/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "capitalize-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", "", "framed transport listen address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address (overrides config)")
	strict := flag.Bool("strict", false, "reject undecodable requests instead of answering empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *strict {
		cfg.Server.StrictDecoding = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metricsAddr := ""
	if cfg.Telemetry.Prometheus {
		metricsAddr = cfg.Telemetry.MetricsAddr
	}
	tel, err := telemetry.Setup(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ProjectID:      cfg.Telemetry.ProjectID,
		ExportInterval: cfg.Telemetry.ExportInterval,
		TraceStdout:    cfg.Telemetry.TraceStdout,
		MetricsAddr:    metricsAddr,
	}, logger)
	if err != nil {
		return err
	}

	fetchOpts := []service.Option{
		service.WithInstrumentation(instrument.New(tel.TracerProvider)),
		service.WithLogger(logger),
	}
	if cfg.Server.StrictDecoding {
		fetchOpts = append(fetchOpts, service.WithStrictDecoding())
	}
	fetch := service.NewFetch(fetchOpts...)

	srvOpts := []server.Option{server.WithLogger(logger)}
	if len(cfg.Registry.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.EtcdEndpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		srvOpts = append(srvOpts, server.WithRegistry(reg, advertiseAddr(cfg), cfg.Registry.TTL))
	}
	srv := server.NewServer(srvOpts...)
	srv.Handle(service.CapitalizeMethod, fetch.Capitalize)
	mws, err := serverMiddlewares(cfg, logger, tel, srv.Methods())
	if err != nil {
		return err
	}
	for _, mw := range mws {
		srv.Use(mw)
	}

	var grpcSrv *grpctransport.Server
	if cfg.Server.GRPCAddr != "" {
		grpcSrv = grpctransport.NewServer(fetch,
			grpctransport.WithLogger(logger),
			grpctransport.WithMiddleware(mws...))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve("tcp", cfg.Server.Addr); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcSrv != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return err
			}
			return grpcSrv.Serve(lis)
		})
	}
	g.Go(serveMetrics(tel, logger))

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownGrace))

		var errs []error
		if err := srv.Shutdown(cfg.Server.ShutdownGrace); err != nil {
			errs = append(errs, err)
		}
		if grpcSrv != nil {
			if err := grpcSrv.Shutdown(cfg.Server.ShutdownGrace); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// serveMetrics runs the /metrics endpoint. A failure only costs observability, so it is
// logged and the RPC servers keep running.
func serveMetrics(tel *telemetry.Telemetry, logger *zap.Logger) func() error {
	return func() error {
		if err := tel.ServeMetrics(); err != nil {
			logger.Warn("metrics endpoint unavailable, serving without it", zap.Error(err))
		}
		return nil
	}
}

// serverMiddlewares builds the chain shared by both transports: logging outermost, then
// metrics, then the optional rate limit. methods bounds the metrics method label.
func serverMiddlewares(cfg config.Config, logger *zap.Logger, tel *telemetry.Telemetry, methods []string) ([]middleware.Middleware, error) {
	metrics, err := middleware.NewMetrics(tel.Registry, "server", methods...)
	if err != nil {
		return nil, err
	}
	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger),
		metrics.Middleware(),
	}
	if cfg.Server.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	return mws, nil
}

// advertiseAddr is the address published in discovery: the configured one, or the
// listen address with an unspecified host replaced by the machine's hostname.
func advertiseAddr(cfg config.Config) string {
	if cfg.Registry.AdvertiseAddr != "" {
		return cfg.Registry.AdvertiseAddr
	}
	host, port, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return cfg.Server.Addr
	}
	if name, err := os.Hostname(); err == nil {
		host = name
	}
	return net.JoinHostPort(host, port)
}
