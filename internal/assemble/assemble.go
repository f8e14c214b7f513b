// Package assemble produces build targets: a duplicate of the base harness
// with a participant's override files copied over it and the configuration
// selector patched to the variant under evaluation.
//
// A target directory is either fully assembled or absent. Every failure after
// the destination was created removes it again.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"harnesseval/internal/catalog"
	"harnesseval/internal/core"
	"harnesseval/internal/failure"
	"harnesseval/internal/patch"
)

// Assemble duplicates base into dest and copies each override over its
// relative path. overrides maps a slash-separated relative path to the file
// to copy from.
//
// A stale dest is removed first. On any copy failure dest is removed and a
// failure.CopyFailure is returned.
func Assemble(base string, overrides map[string]string, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return failure.Wrap(failure.CopyFailure, "", err, "remove stale %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return failure.Wrap(failure.CopyFailure, "", err, "create parent of %s", dest)
	}
	if err := core.CopyTree(base, dest); err != nil {
		rollback(dest)
		return failure.Wrap(failure.CopyFailure, "", err, "duplicate base %s", base)
	}

	rels := make([]string, 0, len(overrides))
	for rel := range overrides {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		src := overrides[rel]
		if err := core.CopyFile(src, core.JoinSlash(dest, rel)); err != nil {
			rollback(dest)
			return failure.Wrap(failure.CopyFailure, "", err, "override %s", rel)
		}
	}
	return nil
}

func rollback(dir string) {
	_ = os.RemoveAll(dir)
}

// Checkouter switches a working tree to a branch.
type Checkouter interface {
	Checkout(ctx context.Context, branch, dir string) error
}

// Builder assembles targets for a catalog.
type Builder struct {
	Catalog *catalog.Catalog

	// BaseDir is the evaluation harness every target starts from.
	BaseDir string

	// TargetsDir receives one assembled tree per target, named by target ID.
	TargetsDir string

	// OutputDir receives one <participant>/<variant> output area per target.
	OutputDir string

	// Git checks out participant branches. Nil means checkouts are prepared
	// by other means and CheckoutDir is used as is.
	Git Checkouter

	Logger *zap.Logger
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// TargetDir is where the tree for (participant, variant) is assembled.
func (b *Builder) TargetDir(participant, variant string) string {
	return filepath.Join(b.TargetsDir, core.TargetID(participant, variant))
}

func (b *Builder) newTarget(participant, variant string) core.BuildTarget {
	return core.BuildTarget{
		Participant: participant,
		Variant:     variant,
		Dir:         b.TargetDir(participant, variant),
		OutputDir:   filepath.Join(b.OutputDir, participant, variant),
	}
}

// Build checks out the submission branch and assembles its target: base
// tree, override files, configuration selector and corrections.
//
// A correction whose literal is missing does not fail the build; it is
// recorded in Warnings since the participant may already carry the fix.
func (b *Builder) Build(ctx context.Context, sub core.Submission) (core.BuildTarget, error) {
	id := core.TargetID(sub.Participant, sub.Variant)
	v, ok := b.Catalog.Lookup(sub.Variant)
	if !ok || v.IsComposite() {
		return core.BuildTarget{}, fmt.Errorf("build %s: %q is not a buildable variant", id, sub.Variant)
	}

	if b.Git != nil {
		if err := b.Git.Checkout(ctx, sub.Branch, sub.CheckoutDir); err != nil {
			return core.BuildTarget{}, tag(err, id)
		}
	}

	overrides := make(map[string]string, len(v.Overrides))
	for _, rel := range v.Overrides {
		overrides[rel] = core.JoinSlash(sub.CheckoutDir, rel)
	}

	target := b.newTarget(sub.Participant, sub.Variant)
	if err := Assemble(b.BaseDir, overrides, target.Dir); err != nil {
		return core.BuildTarget{}, tag(err, id)
	}
	if err := b.selectVariant(target, v.Key); err != nil {
		rollback(target.Dir)
		return core.BuildTarget{}, err
	}

	if len(v.Corrections) > 0 {
		if err := patch.ApplyCorrections(target.Dir, v.Corrections); err != nil {
			target.Warnings = append(target.Warnings, err.Error())
			b.logger().Warn("correction not applied",
				zap.String("target", id),
				zap.Error(err))
		}
	}

	b.logger().Debug("target assembled",
		zap.String("target", id),
		zap.String("dir", target.Dir))
	return target, nil
}

// BuildComposite assembles a derived variant for one participant from the
// targets already built for its constituents.
//
// If either constituent is missing from built, nothing is created and a
// failure.CompositeDependencyMissing error is returned.
func (b *Builder) BuildComposite(participant string, v catalog.Variant, built map[string]core.BuildTarget) (core.BuildTarget, error) {
	id := core.TargetID(participant, v.Name)
	if !v.IsComposite() {
		return core.BuildTarget{}, fmt.Errorf("build %s: %q is not a composite variant", id, v.Name)
	}
	target := b.newTarget(participant, v.Name)

	base, okBase := built[v.Composite.Base]
	overlay, okOverlay := built[v.Composite.Overlay]
	if !okBase || !okOverlay {
		rollback(target.Dir)
		var missing []string
		if !okBase {
			missing = append(missing, v.Composite.Base)
		}
		if !okOverlay {
			missing = append(missing, v.Composite.Overlay)
		}
		return core.BuildTarget{}, failure.New(failure.CompositeDependencyMissing, id, "missing constituent %v", missing)
	}

	overlayVariant, ok := b.Catalog.Lookup(v.Composite.Overlay)
	if !ok {
		return core.BuildTarget{}, fmt.Errorf("build %s: unknown overlay %q", id, v.Composite.Overlay)
	}
	overrides := make(map[string]string, len(overlayVariant.Overrides))
	for _, rel := range overlayVariant.Overrides {
		overrides[rel] = core.JoinSlash(overlay.Dir, rel)
	}

	if err := Assemble(base.Dir, overrides, target.Dir); err != nil {
		return core.BuildTarget{}, tag(err, id)
	}
	if err := b.selectVariant(target, v.Key); err != nil {
		rollback(target.Dir)
		return core.BuildTarget{}, err
	}
	for _, p := range v.Composite.Patches {
		path := core.JoinSlash(target.Dir, p.File)
		applied, err := patch.ApplyLiteralPatch(path, p.Old, p.New)
		if err != nil || !applied {
			rollback(target.Dir)
			fe := failure.New(failure.ConfigPatchNotFound, id, "guard condition in %s", p.File).WithOutput(path)
			fe.Cause = err
			return core.BuildTarget{}, fe
		}
	}

	b.logger().Debug("composite assembled",
		zap.String("target", id),
		zap.String("base", base.ID()),
		zap.String("overlay", overlay.ID()))
	return target, nil
}

func (b *Builder) selectVariant(target core.BuildTarget, key string) error {
	path := core.JoinSlash(target.Dir, b.Catalog.ConfigFile())
	ok, err := patch.SelectVariant(path, b.Catalog.CandidateKeys(), key, b.Catalog.ConfigTemplate())
	if err != nil {
		return failure.Wrap(failure.ConfigPatchNotFound, target.ID(), err, "select %s", key).WithOutput(path)
	}
	if !ok {
		return failure.New(failure.ConfigPatchNotFound, target.ID(), "no selector literal in %s", b.Catalog.ConfigFile()).WithOutput(path)
	}
	return nil
}

// tag sets the target identity on a classified error that has none.
func tag(err error, id string) error {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Target == "" {
		fe.Target = id
	}
	return err
}
