package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"slices"

	"github.com/cockroachdb/errors"
)

// Size is the length in bytes of a Fingerprint.
const Size = sha256.Size

// Domain prefixes keep fingerprints derived by different helpers from ever
// colliding with each other.
const (
	domainParts = "memo/fingerprint/parts/v1"
	domainFiles = "memo/fingerprint/files/v1"
	domainBuild = "memo/fingerprint/build/v1"
	domainChild = "memo/fingerprint/child/v1"
)

// ErrInvalid is returned when bytes or text cannot be interpreted as a Fingerprint.
var ErrInvalid = errors.New("invalid fingerprint")

// Fingerprint identifies the current implementation of a computation. Equal
// implementations must always produce equal fingerprints and any semantic
// change must produce a different one.
type Fingerprint [Size]byte

// String returns the lowercase hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Bytes returns a copy of the fingerprint bytes.
func (f Fingerprint) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, f[:])
	return b
}

// IsZero reports whether f is the zero value, which carries no identity.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Extend derives a child fingerprint, for example one per function of a
// package whose source is fingerprinted as a whole.
func (f Fingerprint) Extend(parts ...string) Fingerprint {
	h := newDomainHash(domainChild)
	_, _ = h.Write(f[:])
	writeParts(h, parts)
	return sum(h)
}

// New derives a fingerprint from an ordered list of parts, such as an explicit
// version tag or the source text of a function. Part boundaries are length
// prefixed so ("ab", "c") and ("a", "bc") differ.
func New(parts ...string) Fingerprint {
	h := newDomainHash(domainParts)
	writeParts(h, parts)
	return sum(h)
}

// FromBytes wraps exactly Size bytes produced by an external fingerprinting layer.
func FromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != Size {
		return f, errors.Wrapf(ErrInvalid, "expected %d bytes, got %d", Size, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, errors.Mark(errors.Wrap(err, "decoding fingerprint"), ErrInvalid)
	}
	return FromBytes(b)
}

// FromFiles derives a fingerprint from a set of source files. Path order and
// duplicates do not matter. Paths should be relative so the fingerprint is
// stable across checkouts; they are hashed in cleaned slash form together with
// each file's contents.
func FromFiles(paths []string) (Fingerprint, error) {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = path.Clean(filepath.ToSlash(p))
	}
	slices.Sort(names)
	names = slices.Compact(names)

	h := newDomainHash(domainFiles)
	buf := make([]byte, 8)
	for _, name := range names {
		p := filepath.FromSlash(name)
		binary.LittleEndian.PutUint64(buf, uint64(len(name)))
		_, _ = h.Write(buf)
		_, _ = h.Write([]byte(name))

		contents, err := os.ReadFile(p)
		if err != nil {
			return Fingerprint{}, errors.Wrapf(err, "reading %s", p)
		}
		binary.LittleEndian.PutUint64(buf, uint64(len(contents)))
		_, _ = h.Write(buf)
		_, _ = h.Write(contents)
	}
	return sum(h), nil
}

// FromBuild derives a fingerprint from the running binary's build information
// (main module path and version, VCS revision and dirty flag, Go version) and
// name. Any rebuild from different sources yields a different fingerprint, so
// it is coarser than FromFiles but needs no access to sources at run time.
func FromBuild(name string) Fingerprint {
	parts := []string{name}
	if info, ok := debug.ReadBuildInfo(); ok {
		parts = append(parts, info.GoVersion, info.Main.Path, info.Main.Version, info.Main.Sum)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision", "vcs.modified", "GOARCH", "GOOS":
				parts = append(parts, s.Key+"="+s.Value)
			}
		}
	}
	h := newDomainHash(domainBuild)
	writeParts(h, parts)
	return sum(h)
}

func newDomainHash(domain string) hash.Hash {
	h := sha256.New()
	_, _ = h.Write([]byte(domain))
	_, _ = h.Write([]byte{0x00})
	return h
}

func writeParts(h hash.Hash, parts []string) {
	buf := make([]byte, 8)
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf, uint64(len(p)))
		_, _ = h.Write(buf)
		_, _ = h.Write([]byte(p))
	}
}

func sum(h hash.Hash) Fingerprint {
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}
