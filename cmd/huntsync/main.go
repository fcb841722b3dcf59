// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

// huntsync is the offline sync daemon and local-store inspection tool for
// the treasure-hunt client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "huntsync:", err)
		os.Exit(1)
	}
}
