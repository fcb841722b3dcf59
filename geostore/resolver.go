// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

// Resolver decides which side of a conflicting record survives when a
// remote pull collides with local state.
type Resolver interface {
	// Resolve compares a local record and a remote record for the same
	// identity and returns the surviving record plus whether the remote
	// side won. It must be pure: no I/O, deterministic for equal inputs.
	Resolve(local, remote Record) (Record, bool)
}

// LastWriteWins resolves at whole-record granularity by modification
// timestamp: the remote record survives iff it is strictly newer. Ties keep
// the local record, so a local edit racing an unrelated concurrent pull is
// never discarded. Concurrent edits to disjoint fields do not merge; the
// older side is dropped wholesale.
type LastWriteWins struct{}

// Resolve implements Resolver.
func (LastWriteWins) Resolve(local, remote Record) (Record, bool) {
	if remote.LastModified.After(local.LastModified) {
		remote.NeedsSync = false
		return remote, true
	}
	return local, false
}
