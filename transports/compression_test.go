package transports

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decompress(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionDeflate:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		d, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return io.ReadAll(d)
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionNone:
		return data, nil
	}
	return nil, fmt.Errorf("unknown algorithm %s", algorithm)
}

func TestCompressor(t *testing.T) {
	original := []byte(strings.Repeat(`{"metric":"jvm.heap","points":[[1667123357,1024]]},`, 20))

	tests := []struct {
		algorithm string
		encoding  string
		smaller   bool
	}{
		{algorithm: CompressionNone, encoding: ""},
		{algorithm: CompressionGzip, encoding: "gzip", smaller: true},
		{algorithm: CompressionDeflate, encoding: "deflate", smaller: true},
		{algorithm: CompressionZstd, encoding: "zstd", smaller: true},
		{algorithm: CompressionSnappy, encoding: "snappy", smaller: true},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := newCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.close()

			compressed, err := c.compress(original)
			require.NoError(t, err)
			assert.Equal(t, tt.encoding, c.contentEncoding())
			if tt.smaller {
				assert.Less(t, len(compressed), len(original))
			}

			plain, err := decompress(tt.algorithm, compressed)
			require.NoError(t, err)
			assert.Equal(t, original, plain)
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := newCompressor("brotli")
	assert.Error(t, err)
	assert.False(t, ValidCompression("brotli"))
	assert.True(t, ValidCompression(""))
}
