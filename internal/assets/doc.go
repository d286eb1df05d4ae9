// Package assets stages bundled model files onto writable storage.
//
// Face detectors are loaded by the vision library from file paths, but the
// models ship in read-only bundled storage (an fs.FS: a directory next to the
// binary, or an embedded tree). A Stager copies each asset into a private cache
// directory the first time it is needed and returns the staged path.
//
// # Idempotency
//
// Staging is safe to repeat. A destination that already exists with the same
// size as the bundled asset is reused as is; otherwise the asset is copied again
// through a temporary file and renamed into place, so a reader never observes a
// half-written model. Staged files are never deleted.
//
// # Concurrency
//
// Concurrent Stage calls for the same asset are collapsed into a single copy,
// and writes into the cache directory are serialized.
//
// # Errors
//
// Every failure is reported as *AssetIOError, naming the asset and the step
// that failed (open, mkdir, copy, rename). Callers treat it as non-fatal: the
// detector that needed the asset is disabled, the process keeps running.
package assets
