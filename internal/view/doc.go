// Package view implements the per-screen state preserver.
//
// A Preserver sits between one screen and the notifier. It retains the last
// update its subscription delivered, so re-entering the screen renders that
// snapshot in the same frame with no network dependency — the notifier's
// replay-latest contract seeds it and live pushes keep it current. The
// retained copy survives any number of screen re-entries and is dropped only
// when the notifier propagates an explicit sign-out / cache-clear signal.
package view
