// Command capitalize-client reads lines from stdin and prints them upper-cased by the
// server:
//
//	> hello world
//
//	< HELLO WORLD
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"capitalize/client"
	"capitalize/codec"
	"capitalize/config"
	"capitalize/grpctransport"
	"capitalize/loadbalance"
	"capitalize/logging"
	"capitalize/middleware"
	"capitalize/registry"
	"capitalize/service"
	"capitalize/telemetry"
)

// channel is what the prompt loop needs from either transport.
type channel interface {
	client.Invoker
	Shutdown(timeout time.Duration) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "capitalize-client:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	host := flag.String("host", "", "server host (overrides config)")
	port := flag.Int("port", 0, "server port (overrides config)")
	useGRPC := flag.Bool("grpc", false, "call the server over gRPC")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Client.Host = *host
	}
	if *port != 0 {
		cfg.Client.Port = *port
	}
	if *useGRPC {
		cfg.Client.Transport = "grpc"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tel, err := telemetry.Setup(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName + "-client",
		ProjectID:      cfg.Telemetry.ProjectID,
		ExportInterval: cfg.Telemetry.ExportInterval,
		MetricsAddr:    cfg.Client.MetricsAddr,
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := tel.ServeMetrics(); err != nil {
			logger.Warn("metrics endpoint", zap.Error(err))
		}
	}()
	defer tel.Shutdown(context.Background())

	ch, err := dial(cfg, logger, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Shutdown(cfg.Client.ShutdownGrace); err != nil {
			logger.Warn("channel shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return prompt(ctx, client.NewFetchClient(ch), os.Stdin, os.Stdout, logger)
}

func dial(cfg config.Config, logger *zap.Logger, tel *telemetry.Telemetry) (channel, error) {
	if cfg.Client.Transport == "grpc" {
		return grpctransport.Dial(net.JoinHostPort(cfg.Client.Host, strconv.Itoa(cfg.Client.Port)))
	}

	cdc, err := codec.ParseCodecType(cfg.Client.Codec)
	if err != nil {
		return nil, err
	}
	metrics, err := middleware.NewMetrics(tel.Registry, "client")
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithCodec(cdc),
		client.WithLogger(logger),
		client.WithCallTimeout(cfg.Client.CallTimeout),
		client.WithRetry(cfg.Client.Retries, cfg.Client.RetryDelay),
		client.WithMiddleware(metrics.Middleware()),
	}

	if len(cfg.Registry.EtcdEndpoints) == 0 {
		return client.Dial(cfg.Client.Host, cfg.Client.Port, opts...), nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.EtcdEndpoints, cfg.Registry.DialTimeout, logger)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, err
	}
	return client.DialRegistry(reg, bal, service.ServiceName, opts...), nil
}

// prompt runs the interactive loop until EOF on in or ctx is done. A failed call prints
// an empty reply; the error goes to the log.
func prompt(ctx context.Context, fc *client.FetchClient, in io.Reader, out io.Writer, logger *zap.Logger) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(out)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		case line := <-lines:
			reply, err := fc.Capitalize(ctx, line)
			if err != nil {
				logger.Warn("capitalize failed", zap.Error(err))
			}
			fmt.Fprintf(out, "\n< %s\n", reply)
		}
	}
}
