// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package loop implements the event loop of the async I/O core: an owning
// registry of live endpoints, a tick/run cycle driven by the readiness
// reactor, and the endpoint factories (bind TCP, connect TCP, listen UDP,
// open virtual interface). Virtual interfaces are completion-backed and are
// driven by the worker pool of the shared completion port rather than by
// the readiness cycle.
package loop
