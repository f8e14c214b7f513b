package assemble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harnesseval/internal/catalog"
	"harnesseval/internal/core"
	"harnesseval/internal/failure"
)

const (
	configRel   = "src/main/java/competition/richmario/SimpleExperiment.java"
	agentRel    = "src/main/java/competition/richmario/agents/AbstractionEnsembleAgent.java"
	shapingRel  = "src/main/java/competition/richmario/experiment/ShapingManager.java"
	similarRel  = "src/main/java/competition/richmario/experiment/SimilarityManager.java"
	selectorFmt = "AgentType[] agentsToRun = new AgentType[] { AgentType.%s };"
)

func selector(key string) string {
	return strings.Replace(selectorFmt, "%s", key, 1)
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

// fixture lays out a base harness and a participant checkout.
type fixture struct {
	base     string
	checkout string
	builder  *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	root := t.TempDir()
	f := &fixture{
		base:     filepath.Join(root, "base"),
		checkout: filepath.Join(root, "checkout"),
	}
	write(t, f.base, configRel, "class SimpleExperiment {\n  "+selector("Abstraction")+"\n}\n")
	write(t, f.base, agentRel, "base agent\n")
	write(t, f.base, shapingRel, "if (AgentType.RewardShaping != SimpleExperiment.activeAgentType) {\n  base shaping\n}\n")
	write(t, f.base, similarRel, "if (AgentType.Similarities != SimpleExperiment.activeAgentType) {\n  base similarity\n}\n")
	write(t, f.base, "res/level.txt", "level")

	write(t, f.checkout, agentRel, "participant agent: float worldRewardUntilNow\r\n")
	write(t, f.checkout, shapingRel, "if (AgentType.RewardShaping != SimpleExperiment.activeAgentType) {\n  participant shaping\n}\n")
	write(t, f.checkout, similarRel, "if (AgentType.Similarities != SimpleExperiment.activeAgentType) {\n  participant similarity\n}\n")

	f.builder = &Builder{
		Catalog:    cat,
		BaseDir:    f.base,
		TargetsDir: filepath.Join(root, "targets"),
		OutputDir:  filepath.Join(root, "output"),
	}
	return f
}

func TestAssemble_OverridesAndStaleRemoval(t *testing.T) {
	f := newFixture(t)
	dest := filepath.Join(t.TempDir(), "dest")
	write(t, dest, "stale.txt", "left over")

	err := Assemble(f.base, map[string]string{
		shapingRel: filepath.Join(f.checkout, filepath.FromSlash(shapingRel)),
	}, dest)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dest, "stale.txt"))
	assert.Contains(t, read(t, dest, shapingRel), "participant shaping")
	assert.Contains(t, read(t, dest, similarRel), "base similarity")
	assert.Equal(t, "level", read(t, dest, "res/level.txt"))
}

func TestAssemble_CopyFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	dest := filepath.Join(t.TempDir(), "dest")

	err := Assemble(f.base, map[string]string{
		shapingRel: filepath.Join(f.checkout, "does-not-exist.java"),
	}, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.CopyFailure))
	assert.NoDirExists(t, dest)
}

func TestBuild_SelectsVariantAndAppliesCorrections(t *testing.T) {
	f := newFixture(t)
	target, err := f.builder.Build(context.Background(), core.NewSubmission("u1", "abstraction", f.checkout))
	require.NoError(t, err)

	assert.Equal(t, "u1_abstraction", target.ID())
	assert.Equal(t, filepath.Join(f.builder.OutputDir, "u1", "abstraction"), target.OutputDir)

	cfg := read(t, target.Dir, configRel)
	assert.Contains(t, cfg, selector("Abstraction"))

	// the first correction matches, the second does not exist in this fixture
	assert.Contains(t, read(t, target.Dir, agentRel), "float worldRewardUntilNow, boolean update")
	require.Len(t, target.Warnings, 1)
	assert.Contains(t, target.Warnings[0], "correction 1")
}

func TestBuild_IdempotentAfterRollback(t *testing.T) {
	f := newFixture(t)
	sub := core.NewSubmission("u2", "similarities", f.checkout)
	hasher := core.NewTreeHasher()

	first, err := f.builder.Build(context.Background(), sub)
	require.NoError(t, err)
	h1, err := hasher.Hash(first.Dir)
	require.NoError(t, err)

	// simulate an interrupted earlier attempt, then assemble again
	require.NoError(t, os.RemoveAll(first.Dir))
	write(t, first.Dir, "partial.java", "half written")

	second, err := f.builder.Build(context.Background(), sub)
	require.NoError(t, err)
	h2, err := hasher.Hash(second.Dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBuild_ConfigPatchNotFoundRollsBack(t *testing.T) {
	f := newFixture(t)
	write(t, f.base, configRel, "class SimpleExperiment {}\n")

	_, err := f.builder.Build(context.Background(), core.NewSubmission("u3", "reward_shaping", f.checkout))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ConfigPatchNotFound))
	assert.NoDirExists(t, f.builder.TargetDir("u3", "reward_shaping"))
}

type fakeGit struct {
	err      error
	branches []string
}

func (g *fakeGit) Checkout(_ context.Context, branch, _ string) error {
	g.branches = append(g.branches, branch)
	return g.err
}

func TestBuild_ChecksOutParticipantBranch(t *testing.T) {
	f := newFixture(t)
	git := &fakeGit{}
	f.builder.Git = git

	_, err := f.builder.Build(context.Background(), core.NewSubmission("u4", "reward_shaping", f.checkout))
	require.NoError(t, err)
	assert.Equal(t, []string{"u4_reward_shaping"}, git.branches)

	git.err = failure.New(failure.BranchNotFound, "", "u4_similarities")
	_, err = f.builder.Build(context.Background(), core.NewSubmission("u4", "similarities", f.checkout))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.BranchNotFound))
	assert.Contains(t, err.Error(), "[u4_similarities]")
	assert.NoDirExists(t, f.builder.TargetDir("u4", "similarities"))
}

func TestBuildComposite_MissingConstituentSkipped(t *testing.T) {
	f := newFixture(t)
	comp, ok := f.builder.Catalog.Lookup("similarities_on_reward_shaping")
	require.True(t, ok)

	rs, err := f.builder.Build(context.Background(), core.NewSubmission("u5", "reward_shaping", f.checkout))
	require.NoError(t, err)

	_, err = f.builder.BuildComposite("u5", comp, map[string]core.BuildTarget{"reward_shaping": rs})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.CompositeDependencyMissing))
	assert.NoDirExists(t, f.builder.TargetDir("u5", "similarities_on_reward_shaping"))
}

func TestBuildComposite_OverlaysAndPatchesGuards(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.builder.Catalog.Lookup("similarities_on_reward_shaping")

	built := map[string]core.BuildTarget{}
	for _, v := range []string{"reward_shaping", "similarities"} {
		tg, err := f.builder.Build(context.Background(), core.NewSubmission("u6", v, f.checkout))
		require.NoError(t, err)
		built[v] = tg
	}

	target, err := f.builder.BuildComposite("u6", comp, built)
	require.NoError(t, err)

	cfg := read(t, target.Dir, configRel)
	assert.Contains(t, cfg, selector("SimilaritiesOnRewardShaping"))
	assert.NotContains(t, cfg, selector("RewardShaping"))

	shaping := read(t, target.Dir, shapingRel)
	assert.Contains(t, shaping, "participant shaping")
	assert.Contains(t, shaping, "(AgentType.SimilaritiesOnRewardShaping != SimpleExperiment.activeAgentType)")

	similar := read(t, target.Dir, similarRel)
	assert.Contains(t, similar, "participant similarity")
	assert.Contains(t, similar, "(AgentType.SimilaritiesOnRewardShaping != SimpleExperiment.activeAgentType)")
}

func TestBuildComposite_GuardMissingRollsBack(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.builder.Catalog.Lookup("similarities_on_reward_shaping")
	write(t, f.checkout, similarRel, "no guard here\n")

	built := map[string]core.BuildTarget{}
	for _, v := range []string{"reward_shaping", "similarities"} {
		tg, err := f.builder.Build(context.Background(), core.NewSubmission("u8", v, f.checkout))
		require.NoError(t, err)
		built[v] = tg
	}

	_, err := f.builder.BuildComposite("u8", comp, built)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ConfigPatchNotFound))
	assert.NoDirExists(t, f.builder.TargetDir("u8", "similarities_on_reward_shaping"))
}
