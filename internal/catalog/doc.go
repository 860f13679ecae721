// Package catalog defines the core data model shared by every shelfsync
// component: collection records, the viewer fingerprint used for cache
// invalidation, and the immutable snapshot that wraps one fetch result.
//
// All three types are value types. A Snapshot is replaced wholesale on every
// successful fetch — callers never mutate one in place.
package catalog
