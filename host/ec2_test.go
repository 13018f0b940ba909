package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// flakyServer fails the first failures requests, then serves the instance id.
func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if calls.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("i-0123456789abcdef0\n"))
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

type recordingSleep struct {
	waits []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func TestEC2_SucceedsOnThirdAttempt(t *testing.T) {
	server, calls := flakyServer(t, 2)
	sleeper := &recordingSleep{}

	r := NewEC2(
		WithMetadataURL(server.URL),
		WithLogger(testLog()),
		withSleep(sleeper.sleep),
	)

	id, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "i-0123456789abcdef0", id)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeper.waits)
}

func TestEC2_GivesUpAfterThreeAttempts(t *testing.T) {
	server, calls := flakyServer(t, 100)
	sleeper := &recordingSleep{}

	r := NewEC2(
		WithMetadataURL(server.URL),
		WithLogger(testLog()),
		withSleep(sleeper.sleep),
	)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 503")
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, sleeper.waits, 2)
}

func TestEC2_StopsWhenInterrupted(t *testing.T) {
	server, calls := flakyServer(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewEC2(
		WithMetadataURL(server.URL),
		WithLogger(testLog()),
		withSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := r.Resolve(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 503")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEC2_RealWaitIsInterruptible(t *testing.T) {
	server, _ := flakyServer(t, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewEC2(
		WithMetadataURL(server.URL),
		WithLogger(testLog()),
		WithRetryWait(time.Minute),
	)

	start := time.Now()
	_, err := r.Resolve(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestEC2_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := NewEC2(
		WithMetadataURL(url),
		WithLogger(testLog()),
		WithAttempts(2),
		WithRetryWait(time.Millisecond),
	)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving ec2 instance id")
}

func TestStatic(t *testing.T) {
	name, err := Static("node1").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node1", name)

	_, err = Static("").Resolve(context.Background())
	assert.Error(t, err)
}

func TestHostname(t *testing.T) {
	name, err := Hostname().Resolve(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}
