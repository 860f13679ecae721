// Package source defines the Remote Collection Source contract — the single
// seam between the cache engine and whatever backend actually owns the
// catalog — together with its error taxonomy and three implementations:
//
//	HTTPSource  — fetches the collection list as JSON over HTTP, conveying
//	              the viewer's permission scope in request headers
//	FileSource  — reads a local YAML catalog, used for offline bootstrap
//	Fallback    — consults a secondary source only when the primary fails
//	              with a network-class error
//
// Every fetch failure is classified as exactly one of ErrNetwork,
// ErrPermission, or ErrMalformed (timeouts count as network). Callers branch
// with errors.Is; the concrete cause stays wrapped underneath.
package source
