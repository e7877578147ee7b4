// Package pipeline implements the extract, normalize, and load stages of a
// staged, restartable ingestion pipeline over an on-disk working directory,
// plus the coordinating Create/Restore/Flush operations that tie them
// together (spec §4.6).
//
// Source-integration helpers (e.g. pulling records from a specific
// upstream API or database and shaping them into the record iterators
// Extract accepts) are out of scope here; callers are expected to supply
// their own iter.Seq[map[string]any] producer.
package pipeline
