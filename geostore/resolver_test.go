// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recordAt(ts time.Time, title string) Record {
	fields, _ := json.Marshal(map[string]string{"title": title})
	return Record{
		EntityType:   EntityTreasure,
		ID:           "shared-id",
		Fields:       fields,
		LastModified: ts,
		NeedsSync:    true,
	}
}

func TestLastWriteWinsRemoteNewer(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	local := recordAt(base, "local")
	remote := recordAt(base.Add(time.Second), "remote")

	winner, remoteWon := LastWriteWins{}.Resolve(local, remote)
	require.True(t, remoteWon)
	require.JSONEq(t, string(remote.Fields), string(winner.Fields))
	require.False(t, winner.NeedsSync, "an accepted remote record is already in sync")
}

func TestLastWriteWinsLocalNewer(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	local := recordAt(base.Add(time.Second), "local")
	remote := recordAt(base, "remote")

	winner, remoteWon := LastWriteWins{}.Resolve(local, remote)
	require.False(t, remoteWon)
	require.JSONEq(t, string(local.Fields), string(winner.Fields))
}

func TestLastWriteWinsTieKeepsLocal(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	local := recordAt(ts, "local")
	remote := recordAt(ts, "remote")

	winner, remoteWon := LastWriteWins{}.Resolve(local, remote)
	require.False(t, remoteWon, "equal timestamps keep the local record")
	require.JSONEq(t, string(local.Fields), string(winner.Fields))
}

// Resolution must be a pure function of the two timestamps: same inputs,
// same winner, in any order of evaluation.
func TestLastWriteWinsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 1000; i++ {
		local := recordAt(base.Add(time.Duration(rng.Int63n(int64(time.Hour)))), "local")
		remote := recordAt(base.Add(time.Duration(rng.Int63n(int64(time.Hour)))), "remote")

		first, firstRemoteWon := LastWriteWins{}.Resolve(local, remote)
		second, secondRemoteWon := LastWriteWins{}.Resolve(local, remote)

		require.Equal(t, firstRemoteWon, secondRemoteWon)
		require.Equal(t, remote.LastModified.After(local.LastModified), firstRemoteWon)
		require.JSONEq(t, string(first.Fields), string(second.Fields))
	}
}
