package cachekey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/agentuity/memo/fingerprint"
	"github.com/cockroachdb/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helloTwo is the canonical msgpack encoding of the argument tuple ("hello", 2).
var helloTwo = []byte{0x92, 0xa5, 'h', 'e', 'l', 'l', 'o', 0x02}

func TestBuildGolden(t *testing.T) {
	var raw fingerprint.Fingerprint
	for i := range raw {
		raw[i] = byte(i)
	}
	vectors := []struct {
		name string
		fp   fingerprint.Fingerprint
		args []byte
	}{
		{"raw-empty", raw, nil},
		{"raw-args", raw, helloTwo},
		{"v1-hello-2", fingerprint.New("v1"), helloTwo},
		{"v2-hello-2", fingerprint.New("v2"), helloTwo},
		{"v1-noargs", fingerprint.New("v1"), []byte{}},
	}
	var out strings.Builder
	for _, v := range vectors {
		k := Build(v.fp, v.args)
		fmt.Fprintf(&out, "%s %s %s %s\n", v.name, v.fp, hex.EncodeToString(v.args), k)
	}
	g := goldie.New(t)
	g.Assert(t, "keys", []byte(out.String()))
}

func TestBuildDeterministic(t *testing.T) {
	fp := fingerprint.New("det")
	assert.Equal(t, Build(fp, helloTwo), Build(fp, append([]byte(nil), helloTwo...)))
}

func TestZeroArgsKeyOnFingerprint(t *testing.T) {
	fp := fingerprint.New("zero")
	assert.Equal(t, Build(fp, nil), Build(fp, []byte{}))
	assert.NotEqual(t, Build(fp, nil), Build(fingerprint.New("other"), nil))
}

func TestFingerprintSensitivity(t *testing.T) {
	fp := fingerprint.New("v1")
	k := Build(fp, helloTwo)
	for i := range fp {
		flipped := fp
		flipped[i] ^= 0x01
		assert.NotEqual(t, k, Build(flipped, helloTwo), "bit flip at byte %d", i)
	}
}

func TestKeySeparation(t *testing.T) {
	const samples = 20000
	seen := make(map[Key]struct{}, samples)
	for range samples {
		var fp fingerprint.Fingerprint
		_, err := rand.Read(fp[:])
		require.NoError(t, err)
		args := make([]byte, 1+len(seen)%17)
		_, err = rand.Read(args)
		require.NoError(t, err)
		k := Build(fp, args)
		_, dup := seen[k]
		require.False(t, dup, "unexpected key collision")
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, samples)
}

func TestParseRoundTrip(t *testing.T) {
	k := Build(fingerprint.New("parse"), helloTwo)
	parsed, err := Parse(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	fromBytes, err := FromBytes(k.Bytes())
	require.NoError(t, err)
	assert.Equal(t, k, fromBytes)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-hex")
	assert.True(t, errors.Is(err, ErrInvalid))
	_, err = Parse("00ff")
	assert.True(t, errors.Is(err, ErrInvalid))
}
