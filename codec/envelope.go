package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Entry layout:
//
//	0      magic 'M'
//	1      version
//	2      format
//	3      compression
//	4..11  created, unix nanoseconds, big endian
//	12..19 xxhash64 of the stored payload, big endian
//	20..   payload
const (
	HeaderSize = 20

	magic   = 'M'
	version = 1
)

// Compression identifies the algorithm applied to a stored payload.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCompression accepts none, zstd or lz4.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, errors.Newf("unknown compression %q (expected none, zstd or lz4)", s)
}

// Envelope is a validated view over an entry. Payload aliases the entry
// passed to Open.
type Envelope struct {
	Format      Format
	Compression Compression
	CreatedAt   time.Time
	Checksum    uint64
	Payload     []byte
}

// Open validates the header and checksum of an entry without copying it.
func Open(entry []byte) (Envelope, error) {
	if len(entry) < HeaderSize {
		return Envelope{}, errors.Mark(errors.Newf("entry too short: %d bytes", len(entry)), ErrCorrupt)
	}
	if entry[0] != magic {
		return Envelope{}, errors.Mark(errors.Newf("bad magic 0x%02x", entry[0]), ErrCorrupt)
	}
	if entry[1] != version {
		return Envelope{}, errors.Mark(errors.Newf("unsupported entry version %d", entry[1]), ErrCorrupt)
	}
	env := Envelope{
		Format:      Format(entry[2]),
		Compression: Compression(entry[3]),
		CreatedAt:   time.Unix(0, int64(binary.BigEndian.Uint64(entry[4:12]))).UTC(),
		Checksum:    binary.BigEndian.Uint64(entry[12:20]),
		Payload:     entry[HeaderSize:],
	}
	if env.Format < FormatBytes || env.Format > FormatProto {
		return Envelope{}, errors.Mark(errors.Newf("unknown payload format %d", entry[2]), ErrCorrupt)
	}
	if env.Compression > CompressionLZ4 {
		return Envelope{}, errors.Mark(errors.Newf("unknown compression %d", entry[3]), ErrCorrupt)
	}
	if sum := xxhash.Sum64(env.Payload); sum != env.Checksum {
		return Envelope{}, errors.Mark(errors.Newf("checksum mismatch: stored %016x, computed %016x", env.Checksum, sum), ErrCorrupt)
	}
	return env, nil
}

// Body returns the decompressed payload. It aliases Payload when the entry
// is stored uncompressed.
func (e Envelope) Body() ([]byte, error) {
	switch e.Compression {
	case CompressionNone:
		return e.Payload, nil
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(e.Payload, nil)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "zstd"), ErrCorrupt)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(e.Payload)))
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "lz4"), ErrCorrupt)
		}
		return out, nil
	}
	return nil, errors.Mark(errors.Newf("unknown compression %d", e.Compression), ErrCorrupt)
}

// Size returns the stored length of the entry.
func (e Envelope) Size() int {
	return HeaderSize + len(e.Payload)
}

func (c *Codec) seal(format Format, payload []byte) ([]byte, error) {
	alg := CompressionNone
	if c.cfg.compression != CompressionNone && len(payload) >= c.cfg.compressMin {
		packed, err := compress(c.cfg.compression, payload)
		if err != nil {
			return nil, err
		}
		// incompressible payloads are kept as is
		if len(packed) < len(payload) {
			payload = packed
			alg = c.cfg.compression
		}
	}
	out := make([]byte, HeaderSize+len(payload))
	out[0] = magic
	out[1] = version
	out[2] = byte(format)
	out[3] = byte(alg)
	binary.BigEndian.PutUint64(out[4:12], uint64(c.cfg.now().UnixNano()))
	binary.BigEndian.PutUint64(out[12:20], xxhash.Sum64(payload))
	copy(out[HeaderSize:], payload)
	return out, nil
}

func compress(alg Compression, src []byte) ([]byte, error) {
	switch alg {
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(src); err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		return buf.Bytes(), nil
	}
	return nil, errors.Newf("unknown compression %d", alg)
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func initZstd() {
	zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if zstdErr != nil {
		return
	}
	zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
}

func zstdEncoder() (*zstd.Encoder, error) {
	zstdOnce.Do(initZstd)
	return zstdEnc, errors.Wrap(zstdErr, "zstd")
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(initZstd)
	return zstdDec, errors.Wrap(zstdErr, "zstd")
}
