// Package cache memoizes deterministic computations in a persistent store.
//
// # Lookup or Compute
//
// [LookupOrCompute] returns the stored result of a call, or runs the
// computation and stores what it returns:
//
//	fp := fingerprint.New("greet", greetSource)
//	msg := cache.LookupOrCompute(ctx, c, fp, []any{"hello", 2}, func() string {
//	    return greet("hello", 2)
//	})
//
// A call is identified by the fingerprint of the computation's implementation
// and the canonical encoding of its arguments (see package codec). Changing
// the implementation changes the fingerprint, so results of older code are
// never returned again. They stay in the file until pruned or purged.
//
// The computation always runs outside any store transaction. Two goroutines
// that miss on the same call both compute; the last write wins, which is
// harmless because both results are equal.
//
// [Exec] is the cache-aside form for computations that can fail:
//
//	user, err := cache.Exec(ctx, c, cache.Call{Fingerprint: fp, Args: []any{id}},
//	    func(ctx context.Context) (User, bool, error) {
//	        user, err := queries.GetUser(ctx, id)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return User{}, false, nil   // not found, won't be cached
//	        }
//	        return user, true, err          // found, will be cached
//	    },
//	)
//
// Errors and results flagged as not cacheable are never stored.
//
// # Degradation
//
// The cache never makes a computation fail. Arguments that cannot be encoded,
// results that cannot be encoded, storage errors and corrupt entries all
// degrade to running the computation uncached, with a warning logged and a
// counter incremented (see [Cache.Counters]). A nil *Cache is valid and runs
// everything uncached, so the result of a failed [Open] can be used as is.
//
// Consecutive storage failures open a circuit breaker; while it is open the
// store is not touched at all. Write transactions that lose a conflict with
// another writer are retried a bounded number of times.
//
// # Result Types
//
// []byte and string results are stored as raw bytes and proto.Message results
// as deterministic protobuf. Anything else is encoded with msgpack (or CBOR,
// see [WithCodecOptions]); its exported fields must survive the round trip,
// so types with unexported fields are rejected rather than silently truncated.
// Results whose static type is an interface, or that hold non-nil interface
// values inside, run uncached since decoding cannot restore their dynamic
// types.
//
// # Maintenance
//
// [Cache.Get], [Cache.Delete], [Cache.Purge], [Cache.Prune], [Cache.Verify]
// and [Cache.Compact] operate on the file directly and return their errors.
// The memo command exposes them on the command line.
package cache
