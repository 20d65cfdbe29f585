package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--version"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "relq-server dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if err := run([]string{"--no-such-flag"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected an error for an unknown flag")
	}
}

func TestRunFailsValidationWithoutEntities(t *testing.T) {
	t.Chdir(t.TempDir())
	err := run([]string{"--database.driver=sqlite", "--database.database=:memory:"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
