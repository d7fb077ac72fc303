package codec

import (
	"bytes"
	"encoding"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/unicode/norm"
	"google.golang.org/protobuf/proto"
)

const maxDepth = 1000

var (
	timeType              = reflect.TypeFor[time.Time]()
	binaryMarshalerType   = reflect.TypeFor[encoding.BinaryMarshaler]()
	protoMessageType      = reflect.TypeFor[proto.Message]()
	msgpackEncoderType    = reflect.TypeFor[msgpack.CustomEncoder]()
	msgpackMarshalerType  = reflect.TypeFor[msgpack.Marshaler]()
	deterministicProtoOpt = proto.MarshalOptions{Deterministic: true}
)

// Canonical tree nodes. Scalars are represented by nil, bool, int64 (negative
// integers only), uint64, float64, string, []byte and time.Time.
type (
	arrayNode []any
	mapNode   []mapEntry
	protoNode struct {
		name string
		data []byte
	}
)

type mapEntry struct {
	key any
	val any
}

type visitKey struct {
	ptr uintptr
	len int
	typ reflect.Type
}

// walker converts Go values into the canonical tree, rejecting values that
// have no deterministic representation. With build unset it only validates.
type walker struct {
	build     bool
	keying    bool
	normalize bool
	visiting  map[visitKey]struct{}
}

func newWalker(build, keying, normalize bool) *walker {
	return &walker{build: build, keying: keying, normalize: normalize, visiting: make(map[visitKey]struct{})}
}

func serializationErrorf(path string, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	return errors.Mark(errors.NewWithDepth(1, msg), ErrSerialization)
}

func (w *walker) enter(v reflect.Value, path string) (func(), error) {
	k := visitKey{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		k.len = v.Len()
	}
	if _, ok := w.visiting[k]; ok {
		return nil, serializationErrorf(path, "reference cycle through %s", v.Type())
	}
	w.visiting[k] = struct{}{}
	return func() { delete(w.visiting, k) }, nil
}

func (w *walker) value(v reflect.Value, path string, depth int) (any, error) {
	if depth > maxDepth {
		return nil, serializationErrorf(path, "value nested deeper than %d levels", maxDepth)
	}
	if !v.IsValid() {
		return nil, nil
	}
	t := v.Type()

	switch {
	case !w.keying && t.Kind() == reflect.Interface && !v.IsNil():
		// decoding into an interface picks the narrowest type, not the one encoded
		return nil, serializationErrorf(path, "interface-typed value %s holding %s cannot be decoded to the same type", t, v.Elem().Type())
	case t == timeType:
		if !w.build {
			return nil, nil
		}
		tm := v.Interface().(time.Time)
		return tm.Round(0).UTC(), nil
	case t.Implements(protoMessageType):
		if isNilPointer(v) {
			return nil, nil
		}
		return w.protoValue(v.Interface().(proto.Message), path)
	case !w.keying && (t.Implements(msgpackEncoderType) || t.Implements(msgpackMarshalerType)):
		return nil, nil
	case t.Implements(binaryMarshalerType):
		if isNilPointer(v) {
			return nil, nil
		}
		if !w.build {
			return nil, nil
		}
		data, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s: MarshalBinary", pathOrRoot(path)), ErrSerialization)
		}
		return data, nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n >= 0 {
			return uint64(n), nil
		}
		return n, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) {
			if w.keying {
				return nil, serializationErrorf(path, "NaN has no canonical encoding")
			}
			return f, nil
		}
		if f == 0 {
			// folds -0 into +0
			return float64(0), nil
		}
		return f, nil
	case reflect.String:
		s := v.String()
		if w.normalize {
			s = norm.NFC.String(s)
		}
		return s, nil
	case reflect.Slice:
		if v.IsNil() {
			if !w.keying {
				return nil, nil
			}
			// a nil slice is the same argument as an empty one
			if t.Elem().Kind() == reflect.Uint8 {
				return []byte{}, nil
			}
			return arrayNode{}, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			if !w.build {
				return nil, nil
			}
			return bytes.Clone(v.Bytes()), nil
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.elements(v, path, depth)
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			if !w.build {
				return nil, nil
			}
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return b, nil
		}
		return w.elements(v, path, depth)
	case reflect.Map:
		if v.IsNil() {
			if !w.keying {
				return nil, nil
			}
			return mapNode{}, nil
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.mapValue(v, path, depth)
	case reflect.Struct:
		return w.structValue(v, path, depth)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		leave, err := w.enter(v, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.value(v.Elem(), path, depth+1)
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return w.value(v.Elem(), path, depth+1)
	default:
		// func, chan, complex, uintptr and unsafe.Pointer
		return nil, serializationErrorf(path, "unsupported kind %s (%s)", v.Kind(), t)
	}
}

func (w *walker) elements(v reflect.Value, path string, depth int) (any, error) {
	var out arrayNode
	if w.build {
		out = make(arrayNode, v.Len())
	}
	for i := range v.Len() {
		n, err := w.value(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		if w.build {
			out[i] = n
		}
	}
	return out, nil
}

func (w *walker) mapValue(v reflect.Value, path string, depth int) (any, error) {
	var out mapNode
	if w.build {
		out = make(mapNode, 0, v.Len())
	}
	iter := v.MapRange()
	for iter.Next() {
		kpath := fmt.Sprintf("%s[%v]", path, iter.Key())
		k, err := w.value(iter.Key(), kpath, depth+1)
		if err != nil {
			return nil, err
		}
		if w.keying {
			switch k.(type) {
			case bool, string, int64, uint64, float64:
			default:
				return nil, serializationErrorf(kpath, "map key of type %s has no canonical ordering", iter.Key().Type())
			}
		}
		val, err := w.value(iter.Value(), kpath, depth+1)
		if err != nil {
			return nil, err
		}
		if w.build {
			out = append(out, mapEntry{key: k, val: val})
		}
	}
	return out, nil
}

func (w *walker) structValue(v reflect.Value, path string, depth int) (any, error) {
	t := v.Type()
	var out mapNode
	if w.build {
		out = make(mapNode, 0, t.NumField())
	}
	for i := range t.NumField() {
		f := t.Field(i)
		name := f.Name
		if tag, ok := f.Tag.Lookup("memo"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		fpath := path + "." + f.Name
		if !f.IsExported() {
			return nil, serializationErrorf(fpath, "unexported field of %s cannot be encoded; tag it `memo:\"-\"` or implement encoding.BinaryMarshaler", t)
		}
		val, err := w.value(v.Field(i), fpath, depth+1)
		if err != nil {
			return nil, err
		}
		if w.build {
			out = append(out, mapEntry{key: name, val: val})
		}
	}
	return out, nil
}

func (w *walker) protoValue(m proto.Message, path string) (any, error) {
	if !w.build {
		return nil, nil
	}
	data, err := deterministicProtoOpt.Marshal(m)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s: marshaling %T", pathOrRoot(path), m), ErrSerialization)
	}
	return protoNode{name: string(m.ProtoReflect().Descriptor().FullName()), data: data}, nil
}

func isNilPointer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func pathOrRoot(path string) string {
	if path == "" {
		return "value"
	}
	return path
}

// msgpackWriter emits the canonical tree using msgpack primitives. Integers
// take their shortest form, floats are always float64 and map entries are
// ordered by the bytes of their encoded keys.
type msgpackWriter struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

func newMsgpackWriter() *msgpackWriter {
	buf := &bytes.Buffer{}
	return &msgpackWriter{buf: buf, enc: msgpack.NewEncoder(buf)}
}

func (w *msgpackWriter) write(n any) error {
	switch n := n.(type) {
	case nil:
		return w.enc.EncodeNil()
	case bool:
		return w.enc.EncodeBool(n)
	case int64:
		return w.enc.EncodeInt(n)
	case uint64:
		return w.enc.EncodeUint(n)
	case float64:
		return w.enc.EncodeFloat64(n)
	case string:
		return w.enc.EncodeString(n)
	case []byte:
		return w.enc.EncodeBytes(n)
	case time.Time:
		return w.enc.EncodeTime(n)
	case protoNode:
		if err := w.enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := w.enc.EncodeString(n.name); err != nil {
			return err
		}
		return w.enc.EncodeBytes(n.data)
	case arrayNode:
		if err := w.enc.EncodeArrayLen(len(n)); err != nil {
			return err
		}
		for _, el := range n {
			if err := w.write(el); err != nil {
				return err
			}
		}
		return nil
	case mapNode:
		return w.writeMap(n)
	default:
		return errors.AssertionFailedf("unexpected canonical node %T", n)
	}
}

func (w *msgpackWriter) writeMap(n mapNode) error {
	type encoded struct {
		key []byte
		val any
	}
	entries := make([]encoded, len(n))
	for i, e := range n {
		kw := newMsgpackWriter()
		if err := kw.write(e.key); err != nil {
			return err
		}
		entries[i] = encoded{key: kw.buf.Bytes(), val: e.val}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	for i := 1; i < len(entries); i++ {
		if bytes.Equal(entries[i-1].key, entries[i].key) {
			return serializationErrorf("", "map keys collide after canonicalization")
		}
	}
	if err := w.enc.EncodeMapLen(len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := w.buf.Write(e.key); err != nil {
			return err
		}
		if err := w.write(e.val); err != nil {
			return err
		}
	}
	return nil
}

// cborValue lowers the canonical tree into plain values for the CBOR core
// deterministic encoder, which orders map keys itself.
func cborValue(n any) (any, error) {
	switch n := n.(type) {
	case arrayNode:
		out := make([]any, len(n))
		for i, el := range n {
			v, err := cborValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case protoNode:
		return []any{n.name, n.data}, nil
	case mapNode:
		out := make(map[any]any, len(n))
		for _, e := range n {
			v, err := cborValue(e.val)
			if err != nil {
				return nil, err
			}
			if _, dup := out[e.key]; dup {
				return nil, serializationErrorf("", "map key %v collides after canonicalization", e.key)
			}
			out[e.key] = v
		}
		return out, nil
	default:
		return n, nil
	}
}
