// Package config loads the settings of the capitalize binaries: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"capitalize/codec"
	"capitalize/loadbalance"
)

const (
	DefaultPort        = 9876
	DefaultGRPCPort    = 9877
	DefaultProjectID   = "census-demos"
	DefaultMetricsAddr = ":9821"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvProjectID     = "OCGRPC_GCP_PROJECTID"
	EnvAddr          = "CAPITALIZE_ADDR"
	EnvLogLevel      = "CAPITALIZE_LOG_LEVEL"
	EnvEtcdEndpoints = "CAPITALIZE_ETCD_ENDPOINTS"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Registry  RegistryConfig  `yaml:"registry"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	GRPCAddr       string        `yaml:"grpcAddr"` // empty disables the gRPC listener
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"`
	StrictDecoding bool          `yaml:"strictDecoding"`
	RateLimit      float64       `yaml:"rateLimit"` // calls per second, 0 disables
	RateBurst      int           `yaml:"rateBurst"`
}

type ClientConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Transport     string        `yaml:"transport"` // "framed" or "grpc"
	Codec         string        `yaml:"codec"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	Balancer      string        `yaml:"balancer"`
	MetricsAddr   string        `yaml:"metricsAddr"` // empty disables the client /metrics listener
}

type TelemetryConfig struct {
	ProjectID      string        `yaml:"projectID"`
	ServiceName    string        `yaml:"serviceName"`
	ExportInterval time.Duration `yaml:"exportInterval"`
	TraceStdout    bool          `yaml:"traceStdout"`
	Prometheus     bool          `yaml:"prometheus"`
	MetricsAddr    string        `yaml:"metricsAddr"`
}

type RegistryConfig struct {
	EtcdEndpoints []string      `yaml:"etcdEndpoints"` // empty disables discovery
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	TTL           int64         `yaml:"ttl"`
	AdvertiseAddr string        `yaml:"advertiseAddr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          fmt.Sprintf(":%d", DefaultPort),
			GRPCAddr:      fmt.Sprintf(":%d", DefaultGRPCPort),
			ShutdownGrace: 4 * time.Second,
			RateBurst:     1,
		},
		Client: ClientConfig{
			Host:          "localhost",
			Port:          DefaultPort,
			Transport:     "framed",
			Codec:         "binary",
			ShutdownGrace: 4 * time.Second,
			RetryDelay:    100 * time.Millisecond,
			Balancer:      "round_robin",
		},
		Telemetry: TelemetryConfig{
			ProjectID:      DefaultProjectID,
			ServiceName:    "capitalize",
			ExportInterval: 10 * time.Second,
			Prometheus:     true,
			MetricsAddr:    DefaultMetricsAddr,
		},
		Registry: RegistryConfig{
			DialTimeout: 3 * time.Second,
			TTL:         10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies the environment. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg from the environment read through getenv.
// An unset or empty project id falls back to DefaultProjectID.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := env(EnvProjectID); v != "" {
		cfg.Telemetry.ProjectID = v
	} else if cfg.Telemetry.ProjectID == "" {
		cfg.Telemetry.ProjectID = DefaultProjectID
	}
	if v := env(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := env(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := env(EnvEtcdEndpoints); v != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		cfg.Registry.EtcdEndpoints = endpoints
	}
}

// Validate rejects settings the binaries cannot run with.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if cfg.Server.ShutdownGrace <= 0 || cfg.Client.ShutdownGrace <= 0 {
		errs = append(errs, errors.New("shutdownGrace must be positive"))
	}
	if _, err := codec.ParseCodecType(cfg.Client.Codec); err != nil {
		errs = append(errs, fmt.Errorf("client.codec: %w", err))
	}
	if cfg.Server.RateLimit < 0 || (cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1) {
		errs = append(errs, errors.New("server.rateLimit must be >= 0 with rateBurst >= 1"))
	}
	if cfg.Client.Port <= 0 || cfg.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("client.port %d out of range", cfg.Client.Port))
	}
	if cfg.Client.Transport != "framed" && cfg.Client.Transport != "grpc" {
		errs = append(errs, fmt.Errorf("client.transport %q is not framed or grpc", cfg.Client.Transport))
	}
	if cfg.Client.Retries < 0 || cfg.Client.CallTimeout < 0 {
		errs = append(errs, errors.New("client.retries and client.callTimeout must not be negative"))
	}
	if _, err := loadbalance.New(cfg.Client.Balancer); err != nil {
		errs = append(errs, err)
	}
	if cfg.Telemetry.ExportInterval <= 0 {
		errs = append(errs, errors.New("telemetry.exportInterval must be positive"))
	}
	if len(cfg.Registry.EtcdEndpoints) > 0 && cfg.Registry.TTL <= 0 {
		errs = append(errs, errors.New("registry.ttl must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
