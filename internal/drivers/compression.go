// internal/drivers/compression.go
package drivers

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms understood by the archive pipeline
const (
	CompressionZstd   = "zstd"
	CompressionSnappy = "snappy"
)

const maxDecoderMemory = 256 * 1024 * 1024

// codec wraps archive streams for one compression algorithm
type codec struct {
	name      string
	extension string
	level     int
}

func newCodec(algorithm string, level int) (*codec, error) {
	switch algorithm {
	case "", CompressionZstd:
		if level == 0 {
			level = 3
		}
		if level < 1 || level > 19 {
			return nil, fmt.Errorf("zstd level must be 1-19, got %d", level)
		}
		return &codec{name: CompressionZstd, extension: ".zst", level: level}, nil
	case CompressionSnappy:
		return &codec{name: CompressionSnappy, extension: ".sz"}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// codecForKey picks the codec from an archive key's extension
func codecForKey(key string) *codec {
	switch {
	case hasExt(key, ".zst"):
		return &codec{name: CompressionZstd, extension: ".zst"}
	case hasExt(key, ".sz"):
		return &codec{name: CompressionSnappy, extension: ".sz"}
	default:
		return nil
	}
}

func (c *codec) writer(dst io.Writer) (io.WriteCloser, error) {
	switch c.name {
	case CompressionSnappy:
		return snappy.NewBufferedWriter(dst), nil
	default:
		enc, err := zstd.NewWriter(dst,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create stream encoder: %w", err)
		}
		return enc, nil
	}
}

func (c *codec) reader(src io.Reader) (io.ReadCloser, error) {
	switch c.name {
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	default:
		dec, err := zstd.NewReader(src,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxDecoderMemory))
		if err != nil {
			return nil, fmt.Errorf("create stream decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	}
}
