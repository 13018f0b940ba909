package transports

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone    = "none"
	CompressionGzip    = "gzip"
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
	CompressionSnappy  = "snappy"
)

// ValidCompression reports whether name is a supported algorithm.
func ValidCompression(name string) bool {
	switch name {
	case "", CompressionNone, CompressionGzip, CompressionDeflate,
		CompressionZstd, CompressionSnappy:
		return true
	}
	return false
}

// compressor encodes request bodies with one algorithm.
type compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

func newCompressor(algorithm string) (*compressor, error) {
	if !ValidCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	c := &compressor{algorithm: algorithm}

	// zstd encoders are expensive, keep one for the transport's lifetime.
	if algorithm == CompressionZstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.encoder = encoder
	}
	return c, nil
}

func (c *compressor) compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionDeflate:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
}

// contentEncoding is the Content-Encoding header value, empty when the body
// is sent as is.
func (c *compressor) contentEncoding() string {
	switch c.algorithm {
	case CompressionGzip, CompressionDeflate, CompressionZstd, CompressionSnappy:
		return c.algorithm
	}
	return ""
}

func (c *compressor) close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}
	return nil
}
