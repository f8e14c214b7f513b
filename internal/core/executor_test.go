package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecute_CombinedOutputAndExitCode(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := e.Execute(ctx, Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err 1>&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	out := string(res.Output)
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Fatalf("expected both streams in output, got %q", out)
	}
}

func TestExecute_ArgumentsAreNotShellInterpreted(t *testing.T) {
	e := NewExecutor()
	res, err := e.Execute(context.Background(), Command{
		Path: "echo",
		Args: []string{"$HOME", "a;b"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := strings.TrimSpace(string(res.Output)); got != "$HOME a;b" {
		t.Fatalf("expected literal arguments, got %q", got)
	}
}

func TestExecute_WorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	t.Setenv("INHERITED_VAR", "from-host")

	e := NewExecutor()
	res, err := e.Execute(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "ls; echo \"$INHERITED_VAR $EXTRA_VAR\""},
		Dir:  dir,
		Env:  map[string]string{"EXTRA_VAR": "added"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := string(res.Output)
	if !strings.Contains(out, "marker") {
		t.Errorf("command did not run in Dir: %q", out)
	}
	if !strings.Contains(out, "from-host added") {
		t.Errorf("expected inherited and extra env, got %q", out)
	}
}

func TestExecute_StartFailure(t *testing.T) {
	e := NewExecutor()
	if _, err := e.Execute(context.Background(), Command{Path: "/definitely/not/a/binary"}); err == nil {
		t.Fatal("expected start error")
	}
	if _, err := e.Execute(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestExecute_CancellationKillsProcess(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, Command{Path: "sh", Args: []string{"-c", "sleep 10"}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("process was not killed promptly: %v", elapsed)
	}
}

func TestMergeEnv_OverridesWin(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	want := []string{"A=1", "B=3", "C=4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("mergeEnv = %v, want %v", got, want)
	}
}
