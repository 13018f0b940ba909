package transports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/juvenn/datadog-reporter/internal/version"
	"github.com/juvenn/datadog-reporter/series"
)

// DefaultEndpoint is the Datadog v1 series API.
const DefaultEndpoint = "https://app.datadoghq.com/api/v1/series"

const defaultTimeout = 5 * time.Second

// HTTPTransport posts each cycle's batch as one JSON document to the
// Datadog series API. Backend rejections are logged, not returned.
type HTTPTransport struct {
	endpoint    string
	apiKey      string
	seriesURL   string
	timeout     time.Duration
	headers     map[string]string
	compression string
	compressor  *compressor
	http        *http.Client
	log         logrus.FieldLogger
}

type HTTPOption func(*HTTPTransport)

// NewHTTPTransport creates a transport authenticating with apiKey.
func NewHTTPTransport(apiKey string, opts ...HTTPOption) (*HTTPTransport, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	t := &HTTPTransport{
		endpoint:    DefaultEndpoint,
		apiKey:      apiKey,
		timeout:     defaultTimeout,
		compression: CompressionNone,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithField("component", "http_transport")

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", t.endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be http or https", t.endpoint)
	}
	params := u.Query()
	params.Set("api_key", t.apiKey)
	u.RawQuery = params.Encode()
	t.seriesURL = u.String()

	t.compressor, err = newCompressor(t.compression)
	if err != nil {
		return nil, err
	}
	if t.http == nil {
		t.http = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: t.timeout}).DialContext,
				TLSHandshakeTimeout:   t.timeout,
				ResponseHeaderTimeout: t.timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return t, nil
}

// Series API url, default to DefaultEndpoint. Use it for other Datadog
// sites or a proxy.
func WithEndpoint(endpoint string) HTTPOption {
	return func(t *HTTPTransport) {
		t.endpoint = endpoint
	}
}

// Connect and read timeout, default to 5s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// Body compression, one of none, gzip, deflate, zstd, snappy.
func WithCompression(algorithm string) HTTPOption {
	return func(t *HTTPTransport) {
		t.compression = algorithm
	}
}

// Extra request headers.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(t *HTTPTransport) {
		t.headers = headers
	}
}

// Replace the http client, timeouts are then up to the client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.http = c
	}
}

func WithLogger(log logrus.FieldLogger) HTTPOption {
	return func(t *HTTPTransport) {
		if log != nil {
			t.log = log
		}
	}
}

// Prepare starts an in-memory batch, no I/O happens until Send.
func (t *HTTPTransport) Prepare(_ context.Context) (Request, error) {
	ser := series.NewSerializer()
	if err := ser.StartObject(); err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}
	return &httpRequest{transport: t, ser: ser}, nil
}

func (t *HTTPTransport) Close() error {
	t.http.CloseIdleConnections()
	return t.compressor.close()
}

type httpRequest struct {
	transport *HTTPTransport
	ser       *series.Serializer
}

func (r *httpRequest) AddGauge(g *series.Series) error {
	return r.ser.AppendGauge(g)
}

func (r *httpRequest) AddCounter(c *series.Series) error {
	return r.ser.AppendCounter(c)
}

func (r *httpRequest) Send(ctx context.Context) error {
	if err := r.ser.EndObject(); err != nil {
		return fmt.Errorf("finishing batch: %w", err)
	}
	return r.transport.post(ctx, r.ser.Bytes(), r.ser.Len())
}

func (t *HTTPTransport) post(ctx context.Context, data []byte, count int) error {
	body, err := t.compressor.compress(data)
	if err != nil {
		return fmt.Errorf("compressing batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.seriesURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("user-agent", version.UserAgent())
	if encoding := t.compressor.contentEncoding(); encoding != "" {
		req.Header.Set("content-encoding", encoding)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	t.log.WithField("series", count).Debug("Sending data to the datadog gateway")
	resp, err := t.http.Do(req)
	if err != nil {
		// url.Error carries the full url, api key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("posting to %s: %w", t.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(msg),
		}).Warn("Datadog returned a non-2xx response")
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	t.log.WithFields(logrus.Fields{
		"series":     count,
		"bytes":      len(data),
		"compressed": len(body),
	}).Debug("Sent batch")
	return nil
}
