// Package store implements the collection cache — the single source of
// truth for the most recent catalog snapshot.
//
// The Store holds one cache entry that moves through the states EMPTY,
// LOADING, FRESH, STALE and ERROR. Get serves a fresh snapshot with no I/O;
// anything else starts a fetch, and concurrent callers join the one fetch
// already in flight rather than issuing their own (at most one fetch is ever
// in flight).
//
// Every fetch captures the cache epoch at start. SetFingerprint and Clear
// bump the epoch, so a fetch that completes after the viewer's identity
// changed fails the epoch comparison and is discarded — it never publishes
// and never overwrites the cached snapshot. Failed refreshes retain the
// previous snapshot; a failure never evicts good data.
package store
