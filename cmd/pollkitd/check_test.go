package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(good, []byte(`
polls:
  - { name: api, url: "https://example.com/health", interval: 10s }
  - { name: off, url: "https://example.com/off", enabled: false }
`), 0o600)
	_ = os.WriteFile(bad, []byte("polls: []\n"), 0o600)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"check", "-c", good})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("check good: %v", err)
	}
	if !strings.Contains(out.String(), "polls:   2 (1 enabled)") {
		t.Fatalf("output = %q", out.String())
	}

	rootCmd.SetArgs([]string{"check", "-c", bad})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("check accepted a config without polls")
	}
}
