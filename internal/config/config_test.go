package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	datadog "github.com/juvenn/datadog-reporter"
	"github.com/juvenn/datadog-reporter/host"
	"github.com/juvenn/datadog-reporter/transports"
	"github.com/juvenn/datadog-reporter/transports/influx"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.True(t, cfg.VMMetrics)
	assert.Equal(t, "hostname", cfg.Host.Source)
	assert.Equal(t, TransportHTTP, cfg.Transport.Type)
	assert.Equal(t, transports.DefaultEndpoint, cfg.Transport.HTTP.Endpoint)
	assert.Equal(t, ":9090", cfg.Health.Addr)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
interval: 30s
host:
  source: static
  value: node1
tags:
  - env:prod
  - service:api
expansions: [count, 1MinuteRate, p99]
vm_metrics: false
duration_unit: 1s
prefix:
  before: "com.example."
  after: "app."
filter:
  include: ["^req\\."]
  exclude: ["\\.debug$"]
flush_on_close: true
transport:
  type: http
  http:
    api_key: secret
    endpoint: "https://api.datadoghq.eu/api/v1/series"
    timeout: 3s
    compression: zstd
    headers:
      X-Proxy: "1"
health:
  addr: ":9191"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, "node1", cfg.Host.Value)
	assert.Equal(t, []string{"env:prod", "service:api"}, cfg.Tags)
	assert.Equal(t, []string{"count", "1MinuteRate", "p99"}, cfg.Expansions)
	assert.False(t, cfg.VMMetrics)
	assert.Equal(t, time.Second, cfg.DurationUnit)
	assert.Equal(t, "app.", cfg.Prefix.After)
	assert.True(t, cfg.FlushOnClose)
	assert.Equal(t, "secret", cfg.Transport.HTTP.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Transport.HTTP.Timeout)
	assert.Equal(t, "zstd", cfg.Transport.HTTP.Compression)
	assert.Equal(t, map[string]string{"X-Proxy": "1"}, cfg.Transport.HTTP.Headers)
	assert.Equal(t, ":9191", cfg.Health.Addr)
}

func TestLoadConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	path := writeConfig(t, "interval: 10s\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Transport.HTTP.APIKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	// A leading tab is invalid YAML indentation.
	path := writeConfig(t, "\t- bad")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Transport.HTTP.APIKey = "k"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"static without value", func(c *Config) { c.Host.Source = "static" }, "host.value"},
		{"unknown host source", func(c *Config) { c.Host.Source = "dns" }, "host.source"},
		{"unknown expansion", func(c *Config) { c.Expansions = []string{"p90"} }, "expansions"},
		{"bad include", func(c *Config) { c.Filter.Include = []string{"("} }, "filter.include"},
		{"bad exclude", func(c *Config) { c.Filter.Exclude = []string{"["} }, "filter.exclude"},
		{"missing api key", func(c *Config) { c.Transport.HTTP.APIKey = "" }, "api_key"},
		{"bad compression", func(c *Config) { c.Transport.HTTP.Compression = "lz4" }, "compression"},
		{"file without path", func(c *Config) { c.Transport.Type = TransportFile }, "transport.file.path"},
		{"influx without url", func(c *Config) { c.Transport.Type = TransportInflux }, "transport.influx.url"},
		{"influx v1 without db", func(c *Config) {
			c.Transport.Type = TransportInflux
			c.Transport.Influx.URL = "http://localhost:8086/write"
		}, "database"},
		{"influx v2 without bucket", func(c *Config) {
			c.Transport.Type = TransportInflux
			c.Transport.Influx.URL = "http://localhost:8086/api/v2/write"
			c.Transport.Influx.Version = 2
		}, "bucket"},
		{"unknown transport", func(c *Config) { c.Transport.Type = "kafka" }, "transport.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPredicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.Include = []string{`^req\.`, `^db\.`}
	cfg.Filter.Exclude = []string{`\.debug$`}

	p, err := cfg.Predicate()
	require.NoError(t, err)

	assert.True(t, p("req.count", nil))
	assert.True(t, p("db.pool.size", nil))
	assert.False(t, p("req.trace.debug", nil))
	assert.False(t, p("cache.hits", nil))

	cfg.Filter.Include = nil
	p, err = cfg.Predicate()
	require.NoError(t, err)
	assert.True(t, p("cache.hits", nil))
	assert.False(t, p("cache.debug", nil))
}

func TestNewTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.HTTP.APIKey = "k"
	tr, err := cfg.NewTransport(testLog())
	require.NoError(t, err)
	assert.IsType(t, &transports.HTTPTransport{}, tr)

	cfg.Transport.Type = TransportFile
	cfg.Transport.File.Path = filepath.Join(t.TempDir(), "metrics.log")
	tr, err = cfg.NewTransport(testLog())
	require.NoError(t, err)
	assert.IsType(t, &transports.FileTransport{}, tr)

	cfg.Transport.Type = TransportStdout
	tr, err = cfg.NewTransport(testLog())
	require.NoError(t, err)
	assert.IsType(t, &transports.FileTransport{}, tr)

	cfg.Transport.Type = TransportInflux
	cfg.Transport.Influx.URL = "http://localhost:8086/api/v2/write"
	cfg.Transport.Influx.Version = 2
	cfg.Transport.Influx.Bucket = "metrics"
	cfg.Transport.Influx.Token = "tok"
	tr, err = cfg.NewTransport(testLog())
	require.NoError(t, err)
	assert.IsType(t, &influx.Transport{}, tr)
}

func TestHostResolver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host.Source = "static"
	cfg.Host.Value = "node1"

	h, err := cfg.HostResolver(testLog()).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node1", h)

	cfg.Host.Source = "ec2"
	assert.IsType(t, &host.EC2{}, cfg.HostResolver(testLog()))
}

func TestReporterOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host.Source = "static"
	cfg.Host.Value = "node1"
	cfg.Transport.Type = TransportFile
	cfg.Transport.File.Path = filepath.Join(t.TempDir(), "metrics.log")
	cfg.VMMetrics = false
	cfg.Expansions = []string{"count"}
	cfg.Prefix = PrefixConfig{Before: "old.", After: "new."}
	cfg.Filter.Exclude = []string{`^skip`}

	opts, err := cfg.ReporterOptions(context.Background(), testLog(), prometheus.NewRegistry())
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("old.requests", reg).Inc(2)
	metrics.GetOrRegisterCounter("skip.me", reg).Inc(1)

	rep, err := datadog.NewReporter(reg, cfg.Interval, opts...)
	require.NoError(t, err)
	assert.Equal(t, "node1", rep.Host())

	rep.Run(context.Background())
	require.NoError(t, rep.Close())

	data, err := os.ReadFile(cfg.Transport.File.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new.requests")
	assert.NotContains(t, string(data), "skip.me")
}
