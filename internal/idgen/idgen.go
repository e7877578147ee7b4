// Package idgen generates the lexicographically-sortable identifiers the
// staged-storage state machine relies on for global ordering: a
// LoadPackage's load_id must sort the same way it was created, so packages
// are always drained oldest-first (spec §4.5's ordering guarantee).
package idgen

import "github.com/google/uuid"

// NewLoadID returns a new load_id: a UUIDv7, whose leading bytes encode a
// millisecond Unix timestamp, so two IDs sort lexicographically in the
// order they were generated.
func NewLoadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the process's entropy source is broken; fall
		// back to a random v4 rather than panic, sacrificing sort order.
		return uuid.NewString()
	}
	return id.String()
}

// NewRecordID returns a new _dlt_id-shaped record identifier: a random
// UUIDv4, no ordering guarantee required for these.
func NewRecordID() string {
	return uuid.NewString()
}
