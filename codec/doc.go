// Package codec turns call arguments into canonical key material and results
// into self-describing stored entries.
//
// # Arguments
//
// [Codec.EncodeArgs] walks the argument values and emits one canonical byte
// string per logical value:
//
//   - integers of every width encode by value in their shortest form;
//   - float32 widens to float64, -0 folds into +0 and NaN is rejected;
//   - map entries are ordered by their encoded keys, and keys must be scalars;
//   - structs encode as a map of exported fields, renamed with a `memo:"name"`
//     tag or skipped with `memo:"-"`; unexported fields are an error;
//   - time.Time is encoded in UTC without its monotonic reading;
//   - protobuf messages encode as their full name plus deterministic bytes;
//   - encoding.BinaryMarshaler values encode as their binary form.
//
// Functions, channels, complex numbers, unsafe pointers and reference cycles
// are rejected with an error marked [ErrSerialization].
//
// # Entries
//
// [Codec.Encode] stores []byte and string results verbatim, protobuf messages
// in deterministic wire form and everything else with the configured
// structured format. Every entry carries a 20-byte header with the format,
// optional compression, creation time and an xxhash64 checksum; [Open]
// rejects anything that fails validation with [ErrCorrupt].
package codec
