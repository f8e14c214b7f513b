package patch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harnesseval/internal/catalog"
)

const template = "AgentType[] agentsToRun = new AgentType[] { AgentType.{key} };"

var candidates = []string{"Abstraction", "RewardShaping", "Similarities", "SimilaritiesOnRewardShaping"}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "SimpleExperiment.java")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func read(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestSelectVariant_ReplacesFirstPresentCandidate(t *testing.T) {
	p := writeFile(t, "class X {\n  "+Render(template, "Abstraction")+"\n}\n")

	ok, err := SelectVariant(p, candidates, "Similarities", template)
	require.NoError(t, err)
	assert.True(t, ok)

	got := read(t, p)
	assert.Equal(t, 1, strings.Count(got, Render(template, "Similarities")))
	assert.NotContains(t, got, Render(template, "Abstraction"))
}

func TestSelectVariant_RepeatedSelectionLeavesOneLiteral(t *testing.T) {
	p := writeFile(t, Render(template, "RewardShaping")+"\n")

	for _, target := range []string{"Similarities", "Abstraction"} {
		ok, err := SelectVariant(p, candidates, target, template)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got := read(t, p)
	total := 0
	for _, k := range candidates {
		total += strings.Count(got, Render(template, k))
	}
	assert.Equal(t, 1, total)
	assert.Contains(t, got, Render(template, "Abstraction"))
}

func TestSelectVariant_SameTargetIsNoOp(t *testing.T) {
	p := writeFile(t, Render(template, "Similarities")+"\n")
	before, err := os.Stat(p)
	require.NoError(t, err)

	ok, err := SelectVariant(p, candidates, "Similarities", template)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "file must not be rewritten")
	assert.Equal(t, Render(template, "Similarities")+"\n", read(t, p))
}

func TestSelectVariant_NotFoundLeavesFileUntouched(t *testing.T) {
	original := "class X { /* no selector */ }\n"
	p := writeFile(t, original)

	ok, err := SelectVariant(p, candidates, "Abstraction", template)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, original, read(t, p))
}

func TestSelectVariant_AmbiguousMatch(t *testing.T) {
	lit := Render(template, "Abstraction")
	p := writeFile(t, lit+"\n"+lit+"\n")

	_, err := SelectVariant(p, candidates, "Similarities", template)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Count)
	assert.Equal(t, lit+"\n"+lit+"\n", read(t, p))
}

func TestSelectVariant_CompositeKeyDoesNotShadowPrefix(t *testing.T) {
	// "Similarities" is a prefix of "SimilaritiesOnRewardShaping" but the
	// rendered literals differ by the closing " };".
	p := writeFile(t, Render(template, "SimilaritiesOnRewardShaping")+"\n")

	ok, err := SelectVariant(p, candidates, "Abstraction", template)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Render(template, "Abstraction")+"\n", read(t, p))
}

func TestApplyLiteralPatch(t *testing.T) {
	p := writeFile(t, "if (a) {\n}\n")

	ok, err := ApplyLiteralPatch(p, "if (a) {", "if ((a) && (b)) {")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "if ((a) && (b)) {\n}\n", read(t, p))

	ok, err = ApplyLiteralPatch(p, "if (zzz) {", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ApplyLiteralPatch(p, "", "x")
	assert.Error(t, err)
}

func TestApplyCorrections_StopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	file := filepath.Join(root, "pkg", "Agent.java")
	require.NoError(t, os.WriteFile(file, []byte("int a;\r\nint b;\r\n"), 0o644))

	err := ApplyCorrections(root, []catalog.LiteralPatch{
		{File: "pkg/Agent.java", Old: "int a;", New: "long a;"},
		{File: "pkg/Agent.java", Old: "int missing;", New: "x"},
		{File: "pkg/Agent.java", Old: "int b;", New: "long b;"},
	})
	require.Error(t, err)

	var ce *CorrectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Index)
	assert.True(t, errors.Is(err, ErrLiteralNotFound))
	assert.Equal(t, "long a;\r\nint b;\r\n", read(t, file))
}

func TestApplyCorrections_All(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "A.java")
	require.NoError(t, os.WriteFile(file, []byte("f(x);\r\n"), 0o644))

	err := ApplyCorrections(root, []catalog.LiteralPatch{
		{File: "A.java", Old: "f(x);", New: "f(x, update);"},
	})
	require.NoError(t, err)
	assert.Equal(t, "f(x, update);\r\n", read(t, file))
}
