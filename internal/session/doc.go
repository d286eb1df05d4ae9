// Package session holds the state of one face overlay session: the selected
// image, the detector slots and the detection currently running.
//
// Detection runs as a background task started with Start, which reports a
// single Outcome on a buffered channel. Starting another detection, loading
// another image, Cancel and Close all cancel the running task, which then
// reports context.Canceled.
//
// Model staging runs under the session's own lifetime, not the task's, so a
// cancelled detection does not throw away a half-finished staging. A request
// that arrives while a backend is still staging fails fast with
// detection.ErrNotReady.
//
// UserMessage maps every outcome to the short text shown to the user. An
// empty result is reported as "no faces detected", which is distinct from
// every failure message.
package session
