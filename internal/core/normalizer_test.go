package core

import (
	"testing"
)

func TestLineNormalizer_Endings(t *testing.T) {
	n := NewLineNormalizer()
	got := string(n.Normalize([]byte("a\r\nb\rc\nd")))
	if got != "a\nb\nc\nd" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestLineNormalizer_Lines(t *testing.T) {
	n := NewLineNormalizer()
	lines := n.Lines([]byte("one\r\ntwo\r\n"))
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("Lines = %q", lines)
	}
	if n.Lines(nil) != nil {
		t.Fatal("expected nil for empty content")
	}
}

func TestContainsMarker_CaseInsensitive(t *testing.T) {
	out := []byte("Compiling...\nFoo.java:3: ERROR: ';' expected\n1 error\n")
	line, ok := ContainsMarker(out, "error")
	if !ok {
		t.Fatal("expected marker to be found")
	}
	if line != "Foo.java:3: ERROR: ';' expected" {
		t.Fatalf("unexpected first line: %q", line)
	}
	if _, ok := ContainsMarker([]byte("all good\n"), "error"); ok {
		t.Fatal("unexpected marker match")
	}
}
