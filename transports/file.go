package transports

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/juvenn/datadog-reporter/series"
)

var errNoOpenRequest = errors.New("no request in flight")

// FileTransport appends a human readable banner and one fixed-width line per
// series to a file or writer. The format is informational, not a contract.
//
//	+++ Mon Jan  2 15:04:05 UTC 2006 +++
//	node1      gauge      1667123357   0.5                  req.latency.p99
type FileTransport struct {
	open func() (io.WriteCloser, error)
	now  func() time.Time

	mu  sync.Mutex
	out io.WriteCloser // open between Prepare and Send
	w   *bufio.Writer
}

// Append to the file at path, creating it if needed. The file is opened on
// every Prepare and closed on every Send.
func NewFileTransport(path string) *FileTransport {
	return &FileTransport{
		open: func() (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		},
		now: time.Now,
	}
}

// Write to w, which is never closed.
func NewWriterTransport(w io.Writer) *FileTransport {
	return &FileTransport{
		open: func() (io.WriteCloser, error) {
			return nopCloser{w}, nil
		},
		now: time.Now,
	}
}

// Write to stdout.
func NewStdoutTransport() *FileTransport {
	return NewWriterTransport(os.Stdout)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func (t *FileTransport) Prepare(_ context.Context) (Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A previous cycle aborted before Send.
	if t.out != nil {
		_ = t.out.Close()
		t.out, t.w = nil, nil
	}
	out, err := t.open()
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "+++ %s +++\n", t.now().Format(time.UnixDate)); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("writing banner: %w", err)
	}
	t.out, t.w = out, w
	return &fileRequest{transport: t}, nil
}

// Close releases a handle left open by a cycle that never sent.
func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return nil
	}
	err := t.out.Close()
	t.out, t.w = nil, nil
	return err
}

func (t *FileTransport) writeLine(s *series.Series) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return errNoOpenRequest
	}
	_, err := fmt.Fprintf(t.w, "%-10s %-10s %-12d %-20s %s\n",
		s.Host, s.Type, s.Epoch(), strconv.FormatFloat(s.Value(), 'f', -1, 64), s.Metric)
	return err
}

func (t *FileTransport) finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return errNoOpenRequest
	}
	flushErr := t.w.Flush()
	closeErr := t.out.Close()
	t.out, t.w = nil, nil
	if flushErr != nil {
		return fmt.Errorf("flushing output: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing output: %w", closeErr)
	}
	return nil
}

type fileRequest struct {
	transport *FileTransport
}

func (r *fileRequest) AddGauge(g *series.Series) error {
	return r.transport.writeLine(g)
}

func (r *fileRequest) AddCounter(c *series.Series) error {
	return r.transport.writeLine(c)
}

func (r *fileRequest) Send(_ context.Context) error {
	return r.transport.finish()
}
