package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHarvest_CopiesLargestLog(t *testing.T) {
	out := t.TempDir()
	target := BuildTarget{Participant: "u7", Variant: "reward_shaping", OutputDir: out}
	if err := os.MkdirAll(target.LogsDir(), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	logs := map[string]string{
		"aborted.log": "short",
		"full.log":    strings.Repeat("line\n", 50),
		"other.log":   "medium medium",
	}
	for name, content := range logs {
		if err := os.WriteFile(filepath.Join(target.LogsDir(), name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	results := t.TempDir()
	h := NewHarvester(results)
	got, err := h.Harvest(target)
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}
	if filepath.Base(got.Source) != "full.log" {
		t.Fatalf("expected full.log, got %s", got.Source)
	}
	want := filepath.Join(results, "u7", "reward_shaping.log")
	if got.Dest != want {
		t.Fatalf("dest = %s, want %s", got.Dest, want)
	}
	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read harvested: %v", err)
	}
	if string(b) != logs["full.log"] {
		t.Fatalf("harvested content mismatch")
	}
}

func TestHarvest_NoLogs(t *testing.T) {
	target := BuildTarget{Participant: "u1", Variant: "abstraction", OutputDir: t.TempDir()}
	if err := os.MkdirAll(target.LogsDir(), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if _, err := NewHarvester(t.TempDir()).Harvest(target); err == nil {
		t.Fatal("expected error for empty logs dir")
	}
}

func TestLargestFile_TieBrokenByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.log", "a.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("same"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, _, err := LargestFile(dir)
	if err != nil {
		t.Fatalf("LargestFile failed: %v", err)
	}
	if filepath.Base(got) != "a.log" {
		t.Fatalf("expected a.log, got %s", got)
	}
}
