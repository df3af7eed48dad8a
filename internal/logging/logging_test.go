// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// logging_test.go — Shared logger chaining, replacement and level control.
package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestL_ChainsEvents(t *testing.T) {
	var buf bytes.Buffer
	prev := log
	Set(zerolog.New(&buf))
	defer Set(prev)

	L().Info().Int("fd", 7).Msg("endpoint registered")
	out := buf.String()
	if !strings.Contains(out, `"fd":7`) || !strings.Contains(out, "endpoint registered") {
		t.Fatalf("Unexpected log output: %q", out)
	}
}

func TestSetLevel_FiltersBelow(t *testing.T) {
	var buf bytes.Buffer
	prev := log
	Set(zerolog.New(&buf))
	defer Set(prev)

	SetLevel(zerolog.WarnLevel)
	L().Info().Msg("suppressed")
	L().Warn().Msg("kept")
	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("Expected info suppressed at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("Expected warn emitted at warn level")
	}
}
