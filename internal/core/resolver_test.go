package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_StrictlySortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"zeta/Z.java",
		"alpha/B.java",
		"alpha/A.JAVA",
		"alpha/notes.txt",
		"Main.java",
	}
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("class X {}"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}

	got, err := NewSourceResolver(root).Resolve(".java")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"Main.java", "alpha/A.JAVA", "alpha/B.java", "zeta/Z.java"}
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		rel, _ := filepath.Rel(root, got[i])
		if filepath.ToSlash(rel) != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], rel)
		}
	}
}

func TestResolve_MissingRoot(t *testing.T) {
	_, err := NewSourceResolver(filepath.Join(t.TempDir(), "nope")).Resolve(".java")
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}
