// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package api defines the shared contracts of the netloop async I/O core:
// the polymorphic Endpoint interface, the caller-supplied callback bundles,
// and the common error values used across backends.
package api
