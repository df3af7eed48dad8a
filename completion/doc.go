// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package completion implements the completion-based multiplexing backend:
// a shared completion channel drained by a fixed pool of workers. I/O is
// issued up front; once it finishes, the producer posts an in-flight Request
// to the channel and a worker dispatches it to the owning endpoint, then
// releases the request exactly once.
//
// The Port is created lazily by the first virtual-interface endpoint and
// shared by all of them. Association and worker count change only at
// creation and at teardown, never during normal operation. Teardown posts
// one shutdown sentinel per worker, joins all workers, and only then
// releases the registered endpoints, so no completion can reach a released
// endpoint.
package completion
