// Package identity supplies the viewer's fingerprint and detects when it
// changes in a way that invalidates cached collections.
//
// Provider is the contract: Current() for the latest fingerprint and
// Changes() for a stream of updates. Two implementations ship with the
// engine — Static (fixed fingerprint, used in tests and anonymous runs) and
// FileProvider (a session YAML file watched with fsnotify, reloaded on every
// write).
//
// Detector sits between a Provider's raw stream and the cache: it compares
// successive fingerprints by value and reports a change only on a real
// transition, swallowing duplicate signals and the transient unresolved
// placeholder a provider may emit while still working out who the viewer is.
package identity
