package codec

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrSerialization marks values that cannot be encoded deterministically.
	ErrSerialization = errors.New("serialization error")
	// ErrCorrupt marks stored entries that fail validation or decoding.
	ErrCorrupt = errors.New("corrupt cache entry")
)

// Format identifies how an entry's payload was produced.
type Format uint8

const (
	FormatBytes Format = iota + 1
	FormatString
	FormatMsgpack
	FormatCBOR
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatBytes:
		return "bytes"
	case FormatString:
		return "string"
	case FormatMsgpack:
		return "msgpack"
	case FormatCBOR:
		return "cbor"
	case FormatProto:
		return "proto"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFormat accepts the structured formats by name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "msgpack", "":
		return FormatMsgpack, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return 0, errors.Newf("unknown format %q (expected msgpack or cbor)", s)
}

var cborMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type config struct {
	format      Format
	compression Compression
	compressMin int
	normalize   bool
	now         func() time.Time
}

// Option configures a Codec.
type Option func(*config)

// WithFormat selects the structured format for arguments and for results that
// are not bytes, strings or protobuf messages. Only FormatMsgpack and
// FormatCBOR are accepted.
func WithFormat(f Format) Option {
	return func(c *config) {
		if f == FormatMsgpack || f == FormatCBOR {
			c.format = f
		}
	}
}

// WithCompression compresses result payloads of at least minSize bytes.
func WithCompression(alg Compression, minSize int) Option {
	return func(c *config) {
		c.compression = alg
		c.compressMin = max(minSize, 0)
	}
}

// WithUnicodeNormalization applies NFC to every string in the arguments
// before encoding, so canonically equivalent strings share a key.
func WithUnicodeNormalization(enabled bool) Option {
	return func(c *config) {
		c.normalize = enabled
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Codec converts arguments to key material and results to stored entries.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	cfg config
}

// New returns a Codec. The default is msgpack with no compression.
func New(opts ...Option) *Codec {
	cfg := config{
		format:      FormatMsgpack,
		compression: CompressionNone,
		compressMin: 1024,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Codec{cfg: cfg}
}

// Format returns the structured format in use.
func (c *Codec) Format() Format {
	return c.cfg.format
}

// EncodeArgs returns the canonical encoding of an argument tuple. Logically
// equal tuples always encode to identical bytes. An empty tuple encodes to an
// empty slice.
func (c *Codec) EncodeArgs(args ...any) ([]byte, error) {
	if len(args) == 0 {
		return []byte{}, nil
	}
	w := newWalker(true, true, c.cfg.normalize)
	tree := make(arrayNode, len(args))
	for i, a := range args {
		n, err := w.value(reflect.ValueOf(a), fmt.Sprintf("args[%d]", i), 0)
		if err != nil {
			return nil, err
		}
		tree[i] = n
	}
	switch c.cfg.format {
	case FormatCBOR:
		v, err := cborValue(tree)
		if err != nil {
			return nil, err
		}
		out, err := cborMode.Marshal(v)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "encoding arguments"), ErrSerialization)
		}
		return out, nil
	default:
		mw := newMsgpackWriter()
		if err := mw.write(tree); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "encoding arguments"), ErrSerialization)
		}
		return mw.buf.Bytes(), nil
	}
}

// Encode serializes a result into a self-describing entry.
func (c *Codec) Encode(v any) ([]byte, error) {
	format, payload, err := c.payload(v)
	if err != nil {
		return nil, err
	}
	return c.seal(format, payload)
}

func (c *Codec) payload(v any) (Format, []byte, error) {
	switch x := v.(type) {
	case []byte:
		// nil goes through the structured encoders so it decodes back to nil
		if x != nil {
			return FormatBytes, x, nil
		}
	case string:
		return FormatString, []byte(x), nil
	case proto.Message:
		data, err := deterministicProtoOpt.Marshal(x)
		if err != nil {
			return 0, nil, errors.Mark(errors.Wrapf(err, "marshaling %T", x), ErrSerialization)
		}
		return FormatProto, data, nil
	}

	// fields the structured encoders would silently drop are rejected up front
	if _, err := newWalker(false, false, false).value(reflect.ValueOf(v), "", 0); err != nil {
		return 0, nil, err
	}

	switch c.cfg.format {
	case FormatCBOR:
		data, err := cborMode.Marshal(v)
		if err != nil {
			return 0, nil, errors.Mark(errors.Wrapf(err, "encoding %T", v), ErrSerialization)
		}
		return FormatCBOR, data, nil
	default:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err != nil {
			return 0, nil, errors.Mark(errors.Wrapf(err, "encoding %T", v), ErrSerialization)
		}
		return FormatMsgpack, buf.Bytes(), nil
	}
}

// Decode validates an entry and reconstructs the value it holds.
func Decode[T any](entry []byte) (T, error) {
	env, err := Open(entry)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeEnvelope[T](env)
}

// DecodeEnvelope reconstructs the value held by an opened envelope.
func DecodeEnvelope[T any](env Envelope) (T, error) {
	var out T
	body, err := env.Body()
	if err != nil {
		return out, err
	}
	switch env.Format {
	case FormatBytes, FormatString:
		switch p := any(&out).(type) {
		case *[]byte:
			*p = bytes.Clone(body)
			if *p == nil {
				*p = []byte{}
			}
		case *string:
			*p = string(body)
		case *any:
			if env.Format == FormatString {
				*p = string(body)
			} else {
				*p = bytes.Clone(body)
			}
		default:
			return out, mismatch[T](env.Format)
		}
	case FormatProto:
		m, ok := any(out).(proto.Message)
		if !ok {
			return out, mismatch[T](env.Format)
		}
		fresh := m.ProtoReflect().New().Interface()
		if err := proto.Unmarshal(body, fresh); err != nil {
			return out, errors.Mark(errors.Wrap(err, "decoding proto payload"), ErrCorrupt)
		}
		out = fresh.(T)
	case FormatMsgpack:
		if err := msgpack.Unmarshal(body, &out); err != nil {
			return out, errors.Mark(errors.Wrap(err, "decoding msgpack payload"), ErrCorrupt)
		}
	case FormatCBOR:
		if err := cbor.Unmarshal(body, &out); err != nil {
			return out, errors.Mark(errors.Wrap(err, "decoding cbor payload"), ErrCorrupt)
		}
	default:
		return out, errors.Mark(errors.Newf("unknown payload format %d", env.Format), ErrCorrupt)
	}
	return out, nil
}

func mismatch[T any](f Format) error {
	return errors.Mark(errors.Newf("%s payload cannot be decoded into %s", f, reflect.TypeFor[T]()), ErrCorrupt)
}
