package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":9876", cfg.Server.Addr)
	require.Equal(t, 4*time.Second, cfg.Client.ShutdownGrace)
	require.Equal(t, 10*time.Second, cfg.Telemetry.ExportInterval)
	require.Equal(t, ":9821", cfg.Telemetry.MetricsAddr)
	require.Equal(t, "census-demos", cfg.Telemetry.ProjectID)
	require.Empty(t, cfg.Client.MetricsAddr, "a client must not take the server's metrics port")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capitalize.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7000"
  strictDecoding: true
  shutdownGrace: 2s
client:
  callTimeout: 500ms
  retries: 2
telemetry:
  traceStdout: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.True(t, cfg.Server.StrictDecoding)
	require.Equal(t, 2*time.Second, cfg.Server.ShutdownGrace)
	require.Equal(t, 500*time.Millisecond, cfg.Client.CallTimeout)
	require.Equal(t, 2, cfg.Client.Retries)
	require.True(t, cfg.Telemetry.TraceStdout)
	// Untouched sections keep their defaults.
	require.Equal(t, 9876, cfg.Client.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{
		EnvProjectID:     "my-project",
		EnvAddr:          "127.0.0.1:1234",
		EnvLogLevel:      "debug",
		EnvEtcdEndpoints: "etcd-1:2379, etcd-2:2379,",
	}))

	require.Equal(t, "my-project", cfg.Telemetry.ProjectID)
	require.Equal(t, "127.0.0.1:1234", cfg.Server.Addr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Registry.EtcdEndpoints)
}

func TestProjectIDFallback(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.ProjectID = ""
	cfg.ApplyEnv(env(map[string]string{EnvProjectID: "   "}))
	require.Equal(t, DefaultProjectID, cfg.Telemetry.ProjectID)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":      func(c *Config) { c.Server.Addr = "" },
		"zero grace":      func(c *Config) { c.Client.ShutdownGrace = 0 },
		"unknown codec":   func(c *Config) { c.Client.Codec = "xml" },
		"bad port":        func(c *Config) { c.Client.Port = 70000 },
		"bad transport":   func(c *Config) { c.Client.Transport = "udp" },
		"bad balancer":    func(c *Config) { c.Client.Balancer = "random_walk" },
		"negative rate":   func(c *Config) { c.Server.RateLimit = -1 },
		"zero burst":      func(c *Config) { c.Server.RateLimit = 10; c.Server.RateBurst = 0 },
		"zero ttl":        func(c *Config) { c.Registry.EtcdEndpoints = []string{"x"}; c.Registry.TTL = 0 },
		"zero export int": func(c *Config) { c.Telemetry.ExportInterval = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
