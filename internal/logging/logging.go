// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
//
// Shared structured logger for all netloop packages.

package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// L returns the process-wide logger. The pointer refers to a private copy,
// so event chains started on it are unaffected by a concurrent Set.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// Set replaces the process-wide logger. Intended for main() and tests.
func Set(l zerolog.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// SetLevel adjusts the global level without replacing the writer.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	log = log.Level(lvl)
	mu.Unlock()
}
