// Package fingerprint provides the identity of a computation's implementation.
//
// A [Fingerprint] is an opaque 32-byte value. The cache keys every stored
// result on the fingerprint of the code that produced it, so changing the code
// (and therefore its fingerprint) makes older results unreachable without any
// manual version bookkeeping.
//
// How a fingerprint is produced is up to the caller. The helpers here cover
// the common cases:
//
//   - [New] hashes explicit parts, for example a version tag or the source
//     text of a function embedded with go:embed;
//   - [FromFiles] hashes a set of source files by relative path and contents;
//   - [FromBuild] hashes the running binary's build information;
//   - [Fingerprint.Extend] derives per-function fingerprints from a package one.
package fingerprint
