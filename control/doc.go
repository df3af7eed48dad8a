// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package control carries the operational surface of the loop: YAML-backed
// configuration loading and thread-safe runtime counters with human-readable
// snapshots.
package control
