// Package store declares the persistence contracts of the pipeline: a task
// store whose mutations are conditional state transitions, and an
// append-only result store keyed by fingerprint. Implementations live in
// internal/platform/postgres and internal/platform/memory.
package store
