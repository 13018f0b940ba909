package host

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MetadataURL serves the instance id of the running EC2 instance.
	MetadataURL = "http://169.254.169.254/latest/meta-data/instance-id"

	defaultAttempts  = 3
	defaultRetryWait = 3 * time.Second
	defaultTimeout   = 5 * time.Second
)

// EC2 resolves the host label to the EC2 instance id, retrying a bounded
// number of times.
type EC2 struct {
	log      logrus.FieldLogger
	url      string
	attempts int
	wait     time.Duration
	timeout  time.Duration
	http     *http.Client
	sleep    func(ctx context.Context, d time.Duration) error
}

type EC2Option func(*EC2)

// NewEC2 creates a resolver querying the instance metadata endpoint.
func NewEC2(opts ...EC2Option) *EC2 {
	r := &EC2{
		log:      logrus.StandardLogger(),
		url:      MetadataURL,
		attempts: defaultAttempts,
		wait:     defaultRetryWait,
		timeout:  defaultTimeout,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.http == nil {
		r.http = &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: r.timeout}).DialContext,
				ResponseHeaderTimeout: r.timeout,
			},
			Timeout: 2 * r.timeout,
		}
	}
	r.log = r.log.WithField("component", "ec2_host")
	return r
}

// Metadata endpoint, default to MetadataURL.
func WithMetadataURL(url string) EC2Option {
	return func(r *EC2) {
		r.url = url
	}
}

// Total number of attempts, default to 3.
func WithAttempts(n int) EC2Option {
	return func(r *EC2) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// Pause between attempts, default to 3s.
func WithRetryWait(d time.Duration) EC2Option {
	return func(r *EC2) {
		r.wait = d
	}
}

// Connect and read timeout, default to 5s.
func WithTimeout(d time.Duration) EC2Option {
	return func(r *EC2) {
		r.timeout = d
	}
}

func WithHTTPClient(c *http.Client) EC2Option {
	return func(r *EC2) {
		r.http = c
	}
}

func WithLogger(log logrus.FieldLogger) EC2Option {
	return func(r *EC2) {
		if log != nil {
			r.log = log
		}
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) EC2Option {
	return func(r *EC2) {
		r.sleep = fn
	}
}

// Resolve returns the instance id. After the last failed attempt, or when
// ctx is cancelled while waiting to retry, the last failure is returned.
func (r *EC2) Resolve(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		id, err := r.fetch(ctx)
		if err == nil {
			r.log.WithField("instance_id", id).Info("Discovered instance id")
			return id, nil
		}
		lastErr = err
		r.log.WithError(err).WithField("attempt", attempt).Warn("Failed to fetch instance id")
		if attempt == r.attempts {
			break
		}
		if r.sleep(ctx, r.wait) != nil {
			break
		}
	}
	return "", fmt.Errorf("resolving ec2 instance id: %w", lastErr)
}

func (r *EC2) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
