// Package influx is a transport writing series to InfluxDB in line protocol,
// over the v1 or v2 write endpoints.
package influx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/juvenn/datadog-reporter/internal/version"
	"github.com/juvenn/datadog-reporter/series"
	"github.com/juvenn/datadog-reporter/transports"
)

var validPrecisions = map[string]bool{
	"ns": true,
	"u":  true, // same as us
	"us": true,
	"ms": true,
	"s":  true,
}

var escaper = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)

// Transport posts one line per series to an influx write endpoint.
// See https://docs.influxdata.com/influxdb/v1.8/tools/api/#influxdb-20-api-compatibility-endpoints
type Transport struct {
	writeURL  *url.URL
	v2        bool
	params    url.Values
	username  string
	password  string
	authtoken string // v2 only
	precision string
	http      *http.Client
	log       logrus.FieldLogger
}

var _ transports.Transport = (*Transport)(nil)

// NewV1 writes into database through a v1 /write endpoint.
func NewV1(writeURL, database string, opts ...Option) (*Transport, error) {
	t, err := newTransport(writeURL, opts...)
	if err != nil {
		return nil, err
	}
	t.params.Set("db", database)
	t.writeURL.RawQuery = t.params.Encode()
	return t, nil
}

// NewV2 writes into bucket through a v2 /api/v2/write endpoint.
func NewV2(writeURL, bucket string, opts ...Option) (*Transport, error) {
	t, err := newTransport(writeURL, opts...)
	if err != nil {
		return nil, err
	}
	t.v2 = true
	t.params.Set("bucket", bucket)
	t.writeURL.RawQuery = t.params.Encode()
	return t, nil
}

func newTransport(writeURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(writeURL)
	if err != nil {
		return nil, fmt.Errorf("parsing write url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("write url %q must be http or https", writeURL)
	}
	t := &Transport{
		writeURL:  u,
		precision: "s",
		params:    u.Query(),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if !validPrecisions[t.precision] {
		return nil, fmt.Errorf("influx precision must be one of [ns,u,us,ms,s], got %q", t.precision)
	}
	t.params.Set("precision", t.precision)
	t.writeURL.RawQuery = t.params.Encode()
	t.log = t.log.WithField("component", "influx_transport")
	return t, nil
}

func (t *Transport) url() string {
	return t.writeURL.String()
}

func (t *Transport) Prepare(_ context.Context) (transports.Request, error) {
	return &request{transport: t}, nil
}

func (t *Transport) Close() error {
	t.http.CloseIdleConnections()
	return nil
}

// Encode a series as a single line:
//
//	metric,host=h,k=v value=1.5 1667123357
//
// Tags without a colon become tag=true.
func encodeLine(s *series.Series, precision string) string {
	var sb strings.Builder
	sb.WriteString(escaper.Replace(s.Metric))
	if s.Host != "" {
		sb.WriteString(",host=")
		sb.WriteString(escaper.Replace(s.Host))
	}

	pairs := make([][2]string, 0, len(s.Tags))
	for _, tag := range s.Tags {
		k, v, ok := strings.Cut(tag, ":")
		if !ok {
			v = "true"
		}
		if k == "" || v == "" {
			continue
		}
		pairs = append(pairs, [2]string{k, v})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i][0] < pairs[j][0]
	})
	for _, p := range pairs {
		sb.WriteByte(',')
		sb.WriteString(escaper.Replace(p[0]))
		sb.WriteByte('=')
		sb.WriteString(escaper.Replace(p[1]))
	}

	sb.WriteString(" value=")
	sb.WriteString(strconv.FormatFloat(s.Value(), 'g', -1, 64))
	sb.WriteByte(' ')

	ts := s.Epoch()
	switch precision {
	case "ns":
		ts *= int64(time.Second)
	case "u", "us":
		ts *= int64(time.Second / time.Microsecond)
	case "ms":
		ts *= int64(time.Second / time.Millisecond)
	}
	sb.WriteString(strconv.FormatInt(ts, 10))
	return sb.String()
}

type request struct {
	transport *Transport
	lines     strings.Builder
	count     int
}

func (r *request) AddGauge(g *series.Series) error {
	return r.add(g)
}

func (r *request) AddCounter(c *series.Series) error {
	return r.add(c)
}

func (r *request) add(s *series.Series) error {
	r.lines.WriteString(encodeLine(s, r.transport.precision))
	r.lines.WriteByte('\n')
	r.count++
	return nil
}

func (r *request) Send(ctx context.Context) error {
	if r.count == 0 {
		return nil
	}
	return r.transport.write(ctx, r.lines.String(), r.count)
}

func (t *Transport) write(ctx context.Context, body string, count int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if t.v2 {
		if t.authtoken != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Token %s", t.authtoken))
		} else if t.username != "" && t.password != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Token %s:%s", t.username, t.password))
		}
	} else if t.username != "" && t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	req.Header.Set("content-type", "text/plain; charset=utf-8")
	req.Header.Set("user-agent", version.UserAgent())

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("writing to influx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s %s", http.MethodPost, t.writeURL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	t.log.WithField("lines", count).Debug("Wrote batch to influx")
	return nil
}

type Option func(*Transport)

// ### Common options

// Timestamp precision used to encode lines, can be one of [ns,u,us,ms,s], default to s.
func WithPrecision(p string) Option {
	return func(t *Transport) {
		t.precision = p
	}
}

// User pass authentication
func WithUserAuth(user, pass string) Option {
	return func(t *Transport) {
		t.username = user
		t.password = pass
	}
}

// Http request timeout, default to 5s.
func WithRequestTimeout(du time.Duration) Option {
	return func(t *Transport) {
		t.http.Timeout = du
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

// ### V2 options

// Influx API token, v2 only.
// See https://docs.influxdata.com/influxdb/v2.4/security/tokens/
func WithAuthToken(token string) Option {
	return func(t *Transport) {
		t.authtoken = token
	}
}

// Org name, v2 only.
func WithOrg(org string) Option {
	return func(t *Transport) {
		t.params.Set("org", org)
	}
}

// ### V1 options

// Retention policy, v1 only
func WithRetentionPolicy(rp string) Option {
	return func(t *Transport) {
		t.params.Set("rp", rp)
	}
}
