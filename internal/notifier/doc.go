// Package notifier mediates between the collection store and its consumers.
//
// A Notifier owns the replay-latest subscription protocol: Subscribe
// delivers the last known update into the new subscriber's channel before
// registering it for future pushes, all under one lock, so no update can
// fall into the gap between subscribing and the first live publish. Each
// update pairs the snapshot with the error (if any) from the producing
// fetch, so a consumer can show retained data and a failure side by side.
//
// The Notifier is also where identity changes become refreshes: Run feeds
// the provider's fingerprint stream through a Detector and issues exactly
// one forced refresh per real transition. A fetch that fails with a
// permission error triggers one immediate identity re-evaluation instead of
// a retry.
package notifier
