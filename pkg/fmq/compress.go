package fmq

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies how a stored payload is encoded. It is recorded per
// slot so readers decode whatever the writer chose at the time.
type Compression uint16

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionS2
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint16(c))
	}
}

// ParseCompression maps a method name to a Compression. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "s2":
		return CompressionS2, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, s)
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func compressPayload(c Compression, p []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return p, nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(p, nil), nil
	case CompressionS2:
		return s2.Encode(nil, p), nil
	case CompressionSnappy:
		return snappy.Encode(nil, p), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidConfig, c)
	}
}

func decompressPayload(c Compression, p []byte, rawLen int32) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return p, nil
	case CompressionZstd:
		if rawLen < 0 {
			return nil, corrupt("slot", "negative raw length %d", rawLen)
		}
		_, dec, cerr := zstdCodec()
		if cerr != nil {
			return nil, cerr
		}
		out, err = dec.DecodeAll(p, make([]byte, 0, rawLen))
	case CompressionS2:
		out, err = s2.Decode(nil, p)
	case CompressionSnappy:
		out, err = snappy.Decode(nil, p)
	default:
		return nil, corrupt("slot", "unknown compression %d", c)
	}
	if err != nil {
		return nil, corrupt("payload", "decompress %s: %v", c, err)
	}
	if int32(len(out)) != rawLen {
		return nil, corrupt("payload", "decompressed %d bytes, slot records %d", len(out), rawLen)
	}
	return out, nil
}
