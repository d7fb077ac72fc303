// Package cachekey derives fixed-size cache keys from a fingerprint and the
// canonical encoding of a call's arguments.
//
// A key is SHA-256(fingerprint ‖ encoded arguments). Hashing bounds the key
// size whatever the argument payload, spreads keys uniformly over the store's
// index, and makes any fingerprint change produce an unrelated key: results of
// older implementations are orphaned, never matched.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/agentuity/memo/fingerprint"
	"github.com/cockroachdb/errors"
)

// Size is the length in bytes of a Key.
const Size = sha256.Size

// ErrInvalid is returned by Parse for malformed keys.
var ErrInvalid = errors.New("invalid cache key")

// Key is the 256-bit identifier of a cache entry.
type Key [Size]byte

// Build returns the key for a call. Zero-argument calls pass an empty
// encodedArgs and are keyed on the fingerprint alone.
func Build(fp fingerprint.Fingerprint, encodedArgs []byte) Key {
	h := sha256.New()
	_, _ = h.Write(fp[:])
	_, _ = h.Write(encodedArgs)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// String returns the lowercase hex form.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler with the hex form.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Bytes returns the key as a slice backed by k.
func (k *Key) Bytes() []byte {
	return k[:]
}

// FromBytes copies exactly Size bytes into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, errors.Wrapf(ErrInvalid, "expected %d bytes, got %d", Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, errors.Mark(errors.Wrapf(err, "decoding key %q", s), ErrInvalid)
	}
	return FromBytes(b)
}
