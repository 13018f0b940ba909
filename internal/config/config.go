// Package config loads the ddreporter daemon configuration and turns it into
// reporter options.
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	datadog "github.com/juvenn/datadog-reporter"
	"github.com/juvenn/datadog-reporter/host"
	"github.com/juvenn/datadog-reporter/internal/health"
	"github.com/juvenn/datadog-reporter/transports"
	"github.com/juvenn/datadog-reporter/transports/influx"
)

// APIKeyEnv supplies transport.http.api_key when the file leaves it empty.
const APIKeyEnv = "DD_API_KEY"

// Config is the top-level configuration for the ddreporter daemon.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Interval between two poll cycles. Defaults to 1m.
	Interval time.Duration `yaml:"interval"`

	// Host configures the label attached to every series.
	Host HostConfig `yaml:"host"`

	// Tags are attached to every series, such as env:prod.
	Tags []string `yaml:"tags"`

	// Expansions emitted for meters, histograms and timers.
	// Empty means all of them.
	Expansions []string `yaml:"expansions"`

	// VMMetrics emits the Go runtime gauges each cycle. Defaults to true.
	VMMetrics bool `yaml:"vm_metrics"`

	// DurationUnit timers are reported in. Defaults to 1ms.
	DurationUnit time.Duration `yaml:"duration_unit"`

	Prefix PrefixConfig `yaml:"prefix"`
	Filter FilterConfig `yaml:"filter"`

	// FlushOnClose reports one last time while shutting down.
	FlushOnClose bool `yaml:"flush_on_close"`

	Transport TransportConfig `yaml:"transport"`

	// Health configures the self-metrics server.
	Health health.Config `yaml:"health"`
}

// HostConfig selects how the host label is resolved.
type HostConfig struct {
	// Source is one of static, hostname, ec2. Defaults to hostname.
	Source string `yaml:"source"`

	// Value is the label for the static source.
	Value string `yaml:"value"`

	EC2 EC2Config `yaml:"ec2"`
}

// EC2Config tunes the instance metadata lookup.
type EC2Config struct {
	MetadataURL string        `yaml:"metadata_url"`
	Attempts    int           `yaml:"attempts"`
	RetryWait   time.Duration `yaml:"retry_wait"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PrefixConfig rewrites a leading part of every formatted name.
type PrefixConfig struct {
	Before string `yaml:"before"`
	After  string `yaml:"after"`
}

// FilterConfig selects registry metrics by name. A metric is reported when
// it matches any include pattern (or none are set) and no exclude pattern.
type FilterConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

const (
	TransportHTTP   = "http"
	TransportFile   = "file"
	TransportStdout = "stdout"
	TransportInflux = "influx"
)

// TransportConfig picks and configures the transport.
type TransportConfig struct {
	// Type is one of http, file, stdout, influx. Defaults to http.
	Type string `yaml:"type"`

	HTTP   HTTPConfig   `yaml:"http"`
	File   FileConfig   `yaml:"file"`
	Influx InfluxConfig `yaml:"influx"`
}

type HTTPConfig struct {
	APIKey      string            `yaml:"api_key"`
	Endpoint    string            `yaml:"endpoint"`
	Timeout     time.Duration     `yaml:"timeout"`
	Compression string            `yaml:"compression"`
	Headers     map[string]string `yaml:"headers"`
}

type FileConfig struct {
	Path string `yaml:"path"`
}

type InfluxConfig struct {
	// Version of the write API, 1 or 2. Defaults to 1.
	Version   int           `yaml:"version"`
	URL       string        `yaml:"url"`
	Precision string        `yaml:"precision"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	Timeout   time.Duration `yaml:"timeout"`

	// v1
	Database        string `yaml:"database"`
	RetentionPolicy string `yaml:"retention_policy"`

	// v2
	Bucket string `yaml:"bucket"`
	Org    string `yaml:"org"`
	Token  string `yaml:"token"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		Interval:     time.Minute,
		VMMetrics:    true,
		DurationUnit: time.Millisecond,
		Host: HostConfig{
			Source: "hostname",
		},
		Transport: TransportConfig{
			Type: TransportHTTP,
			HTTP: HTTPConfig{
				Endpoint:    transports.DefaultEndpoint,
				Compression: transports.CompressionNone,
			},
			Influx: InfluxConfig{
				Version:   1,
				Precision: "s",
			},
		},
		Health: health.Config{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.Transport.HTTP.APIKey == "" {
		cfg.Transport.HTTP.APIKey = os.Getenv(APIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	if c.DurationUnit <= 0 {
		return fmt.Errorf("duration_unit must be positive")
	}

	switch c.Host.Source {
	case "static":
		if c.Host.Value == "" {
			return fmt.Errorf("host.value is required for a static host")
		}
	case "hostname", "ec2":
	default:
		return fmt.Errorf("host.source must be one of static, hostname, ec2, got %q", c.Host.Source)
	}

	if _, err := datadog.ParseExpansions(c.Expansions); err != nil {
		return fmt.Errorf("expansions: %w", err)
	}

	if _, err := c.Predicate(); err != nil {
		return err
	}

	t := c.Transport
	switch t.Type {
	case TransportHTTP:
		if t.HTTP.APIKey == "" {
			return fmt.Errorf("transport.http.api_key or %s is required", APIKeyEnv)
		}
		if !transports.ValidCompression(t.HTTP.Compression) {
			return fmt.Errorf("transport.http.compression %q is not supported", t.HTTP.Compression)
		}
	case TransportFile:
		if t.File.Path == "" {
			return fmt.Errorf("transport.file.path is required")
		}
	case TransportStdout:
	case TransportInflux:
		if t.Influx.URL == "" {
			return fmt.Errorf("transport.influx.url is required")
		}
		switch t.Influx.Version {
		case 1:
			if t.Influx.Database == "" {
				return fmt.Errorf("transport.influx.database is required for version 1")
			}
		case 2:
			if t.Influx.Bucket == "" {
				return fmt.Errorf("transport.influx.bucket is required for version 2")
			}
		default:
			return fmt.Errorf("transport.influx.version must be 1 or 2")
		}
	default:
		return fmt.Errorf("transport.type must be one of http, file, stdout, influx, got %q", t.Type)
	}

	return nil
}

// Predicate compiles the name filter.
func (c *Config) Predicate() (datadog.Predicate, error) {
	include, err := compileAll(c.Filter.Include)
	if err != nil {
		return nil, fmt.Errorf("filter.include: %w", err)
	}

	exclude, err := compileAll(c.Filter.Exclude)
	if err != nil {
		return nil, fmt.Errorf("filter.exclude: %w", err)
	}

	return func(name string, _ any) bool {
		if len(include) > 0 && !matchAny(include, name) {
			return false
		}
		return !matchAny(exclude, name)
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func matchAny(res []*regexp.Regexp, name string) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// HostResolver builds the resolver selected by host.source.
func (c *Config) HostResolver(log logrus.FieldLogger) host.Resolver {
	switch c.Host.Source {
	case "static":
		return host.Static(c.Host.Value)
	case "ec2":
		opts := []host.EC2Option{host.WithLogger(log)}
		ec2 := c.Host.EC2
		if ec2.MetadataURL != "" {
			opts = append(opts, host.WithMetadataURL(ec2.MetadataURL))
		}
		if ec2.Attempts > 0 {
			opts = append(opts, host.WithAttempts(ec2.Attempts))
		}
		if ec2.RetryWait > 0 {
			opts = append(opts, host.WithRetryWait(ec2.RetryWait))
		}
		if ec2.Timeout > 0 {
			opts = append(opts, host.WithTimeout(ec2.Timeout))
		}
		return host.NewEC2(opts...)
	default:
		return host.Hostname()
	}
}

// NewTransport builds the transport selected by transport.type.
func (c *Config) NewTransport(log logrus.FieldLogger) (transports.Transport, error) {
	t := c.Transport
	switch t.Type {
	case TransportHTTP:
		return transports.NewHTTPTransport(t.HTTP.APIKey,
			transports.WithEndpoint(t.HTTP.Endpoint),
			transports.WithTimeout(t.HTTP.Timeout),
			transports.WithCompression(t.HTTP.Compression),
			transports.WithHeaders(t.HTTP.Headers),
			transports.WithLogger(log),
		)
	case TransportFile:
		return transports.NewFileTransport(t.File.Path), nil
	case TransportStdout:
		return transports.NewStdoutTransport(), nil
	case TransportInflux:
		in := t.Influx
		opts := []influx.Option{
			influx.WithPrecision(in.Precision),
			influx.WithLogger(log),
		}
		if in.Username != "" {
			opts = append(opts, influx.WithUserAuth(in.Username, in.Password))
		}
		if in.Timeout > 0 {
			opts = append(opts, influx.WithRequestTimeout(in.Timeout))
		}
		if in.Version == 2 {
			if in.Org != "" {
				opts = append(opts, influx.WithOrg(in.Org))
			}
			if in.Token != "" {
				opts = append(opts, influx.WithAuthToken(in.Token))
			}
			return influx.NewV2(in.URL, in.Bucket, opts...)
		}
		if in.RetentionPolicy != "" {
			opts = append(opts, influx.WithRetentionPolicy(in.RetentionPolicy))
		}
		return influx.NewV1(in.URL, in.Database, opts...)
	}
	return nil, fmt.Errorf("unknown transport type %q", t.Type)
}

// ReporterOptions assembles the reporter from the configuration. The host is
// resolved later, by NewReporter, within ctx.
func (c *Config) ReporterOptions(ctx context.Context, log logrus.FieldLogger, reg prometheus.Registerer) ([]datadog.Option, error) {
	expansions, err := datadog.ParseExpansions(c.Expansions)
	if err != nil {
		return nil, fmt.Errorf("expansions: %w", err)
	}

	predicate, err := c.Predicate()
	if err != nil {
		return nil, err
	}

	transport, err := c.NewTransport(log)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	opts := []datadog.Option{
		datadog.WithTransport(transport),
		datadog.WithHostResolver(ctx, c.HostResolver(log)),
		datadog.WithExpansions(expansions),
		datadog.WithVMMetrics(c.VMMetrics),
		datadog.WithPredicate(predicate),
		datadog.WithTags(c.Tags...),
		datadog.WithDurationUnit(c.DurationUnit),
		datadog.WithFlushOnClose(c.FlushOnClose),
		datadog.WithLogger(log),
	}
	if c.Prefix.Before != "" || c.Prefix.After != "" {
		opts = append(opts, datadog.WithFormatter(
			datadog.NewPrefixReplacingFormatter(c.Prefix.Before, c.Prefix.After)))
	}
	if reg != nil {
		opts = append(opts, datadog.WithRegisterer(reg))
	}

	return opts, nil
}
