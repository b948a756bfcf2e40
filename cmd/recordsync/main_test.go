package main

import (
	"bytes"
	"strings"
	"testing"

	icmd "recordsync/internal/client/cmd"
)

func TestVersionCommand(t *testing.T) {
	root := icmd.NewRootCmd("1.2.3", "2026-10-19")
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "1.2.3") || !strings.Contains(out, "2026-10-19") {
		t.Fatalf("unexpected version output: %q", out)
	}
}
