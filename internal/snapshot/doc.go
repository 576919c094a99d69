// Package snapshot holds the immutable subject-to-rule mapping produced by
// each evaluation and the publisher that exchanges it atomically.
//
// Readers call Publisher.Load once per pass and keep the returned Snapshot
// for the whole pass. A Snapshot is never mutated after New returns, so a
// stale reference stays internally consistent after a newer one is
// published; the garbage collector reclaims it once the last reader drops it.
package snapshot
