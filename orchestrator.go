package rustext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Builder orchestrates a set of RustExtensions through one build: it
// validates the set, drives the Invoker per extension (in parallel,
// bounded), resolves each artifact's destination, and places the files.
//
// Optionality is implemented here and only here: the invoker, resolver
// and placer report every failure as an error, and the orchestrator
// downgrades failures of optional extensions to warnings. Malformed
// build-event output and configuration errors stay fatal even for
// optional extensions.
//
// # Usage
//
//	builder := rustext.NewBuilder(logger, interp)
//	result, err := builder.Build(ctx, extensions, profile, destRoot)
//
// Configure the exported fields before the first Build call; the Builder
// is safe for concurrent use afterwards.
type Builder struct {
	// Invoker drives the native toolchain. Defaults to Cargo.
	Invoker Invoker

	// Placer copies artifacts into the destination tree.
	Placer *Placer

	// Interp is the interpreter the extensions are built for.
	Interp InterpreterContext

	// Concurrency bounds parallel toolchain invocations. Zero or negative
	// means the number of available processing units.
	Concurrency int

	// AllOrNothing removes every placed file if any required extension
	// fails. The default leaves partial successes in place and visible in
	// the BuildResult.
	AllOrNothing bool

	log zerolog.Logger
}

// NewBuilder returns a Builder wired to the cargo toolchain.
func NewBuilder(log zerolog.Logger, interp InterpreterContext) *Builder {
	return &Builder{
		Invoker: NewCargo(log),
		Placer:  NewPlacer(log),
		Interp:  interp,
		log:     log,
	}
}

// errAborted marks extensions whose invocation never started because an
// earlier required extension failed.
var errAborted = errors.New("build aborted after earlier failure")

// hardFailure reports errors the optional flag never downgrades. A
// malformed build-event stream means the toolchain itself is broken, and
// a bad descriptor or manifest means the configuration is broken; both
// outrank optionality.
func hardFailure(err error) bool {
	var tcErr *ToolchainError
	if errors.As(err, &tcErr) && tcErr.Kind == ToolchainMalformedOutput {
		return true
	}
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// targetOutcome is the per-extension result slot. Each worker goroutine
// writes only its own slot, so no locking is needed beyond the errgroup
// join.
type targetOutcome struct {
	err      error
	skipped  bool // pre-build skip of an optional extension
	placed   []Placement
	warnings []string
}

// Build compiles every extension under profile and places the artifacts
// under destRoot. The returned BuildResult lists targets in declaration
// order regardless of completion order.
//
// A failure of a required extension stops new invocations; in-flight
// cargo processes are allowed to finish and their artifacts are still
// placed. Failures of optional extensions become warnings. The returned
// error equals result.Err: the first hard failure, or nil.
func (b *Builder) Build(ctx context.Context, exts []*RustExtension, profile Profile, destRoot string) (*BuildResult, error) {
	result := &BuildResult{}

	if err := ValidateExtensions(exts); err != nil {
		result.Err = err
		return result, err
	}
	if len(exts) == 0 {
		return result, nil
	}

	outcomes := make([]targetOutcome, len(exts))

	if err := b.checkRustVersions(ctx, exts, outcomes); err != nil {
		return b.aggregate(exts, outcomes, result, err), err
	}

	if err := b.checkCrossTarget(ctx, profile); err != nil {
		return b.aggregate(exts, outcomes, result, err), err
	}

	limit := b.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(limit))

	// A required failure flips stop; running invocations drain, new ones
	// do not start. Deliberately not an errgroup context: a failure must
	// not kill sibling cargo processes mid-write. The dispatch loop
	// acquires the semaphore itself so invocations start in declaration
	// order.
	var stop atomic.Bool
	var g errgroup.Group

	for i, ext := range exts {
		i, ext := i, ext
		if outcomes[i].skipped || outcomes[i].err != nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i].err = err
			continue
		}
		if stop.Load() {
			sem.Release(1)
			outcomes[i].err = errAborted
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			placed, warnings, err := b.buildOne(ctx, ext, profile, destRoot)
			outcomes[i] = targetOutcome{err: err, placed: placed, warnings: warnings}
			if err != nil && (!ext.Optional || hardFailure(err)) {
				stop.Store(true)
			}
			return nil
		})
	}
	g.Wait()

	b.aggregate(exts, outcomes, result, nil)

	if result.Err != nil && b.AllOrNothing {
		for _, placement := range result.Placed {
			if err := os.Remove(placement.Dest); err != nil && !os.IsNotExist(err) {
				b.log.Warn().Str("path", placement.Dest).Err(err).Msg("cannot roll back placement")
			}
		}
		result.Placed = nil
	}

	return result, result.Err
}

// buildOne runs the invoke → resolve → place pipeline for one extension.
func (b *Builder) buildOne(ctx context.Context, ext *RustExtension, profile Profile, destRoot string) ([]Placement, []string, error) {
	artifacts, err := b.Invoker.Invoke(ctx, ext, profile)
	if err != nil {
		return nil, nil, err
	}

	var placed []Placement
	var warnings []string
	for _, artifact := range artifacts {
		if artifact.Kind == KindStaticlib {
			// Link-only output; nothing to place in the package tree.
			b.log.Debug().Str("extension", ext.Name).Str("artifact", artifact.Path).Msg("skipping static library")
			continue
		}

		dest, err := ResolveDestination(ext, b.Interp, destRoot)
		if err != nil {
			return placed, warnings, err
		}

		final, stripWarnings, err := b.Placer.Place(ctx, artifact, dest, ext.Strip)
		warnings = append(warnings, stripWarnings...)
		if err != nil {
			return placed, warnings, err
		}
		placed = append(placed, Placement{Extension: ext.Name, Source: artifact.Path, Dest: final})
	}
	return placed, warnings, nil
}

// checkRustVersions enforces per-extension rustc constraints, querying the
// compiler version at most once per build. A required extension with an
// unsatisfied constraint is a hard failure returned to the caller; an
// optional one is pre-marked as skipped.
func (b *Builder) checkRustVersions(ctx context.Context, exts []*RustExtension, outcomes []targetOutcome) error {
	constrained := false
	for _, ext := range exts {
		if ext.RustVersion != "" {
			constrained = true
			break
		}
	}
	if !constrained {
		return nil
	}

	reporter, ok := b.Invoker.(interface {
		RustcVersion(ctx context.Context) (*semver.Version, error)
	})
	if !ok {
		return nil
	}

	version, err := reporter.RustcVersion(ctx)
	if err != nil {
		return &ToolchainError{Kind: ToolchainMissing, Err: err}
	}

	for i, ext := range exts {
		if ext.RustVersion == "" {
			continue
		}
		constraint, err := semver.NewConstraint(ext.RustVersion)
		if err != nil {
			// Validate caught syntax errors already; this is unreachable
			// for validated sets.
			return &ConfigError{Extension: ext.Name, Msg: err.Error()}
		}
		if constraint.Check(version) {
			continue
		}
		mismatch := &ToolchainError{
			Extension: ext.Name,
			Kind:      ToolchainVersion,
			Err:       fmt.Errorf("rustc %s does not satisfy %q", version, ext.RustVersion),
		}
		if !ext.Optional {
			return mismatch
		}
		outcomes[i] = targetOutcome{err: mismatch, skipped: true}
	}
	return nil
}

// checkCrossTarget verifies the profile's cross triple against a fresh
// snapshot of the installed target list. An empty snapshot (no rustup)
// skips the check; cargo is then the authority.
func (b *Builder) checkCrossTarget(ctx context.Context, profile Profile) error {
	if profile.Target == "" {
		return nil
	}

	installed, err := b.Invoker.InstalledTargets(ctx)
	if err != nil {
		return &ToolchainError{Kind: ToolchainMissing, Err: err}
	}
	if len(installed) == 0 {
		return nil
	}
	for _, triple := range installed {
		if triple == profile.Target {
			return nil
		}
	}
	return &ToolchainError{
		Kind: ToolchainMissingTarget,
		Err:  fmt.Errorf("target %q is not installed; run `rustup target add %s`", profile.Target, profile.Target),
	}
}

// aggregate folds the per-extension outcomes into the result in
// declaration order, applying the optional-failure downgrade. hard, when
// non-nil, is a build-wide failure that pre-empted the extensions.
func (b *Builder) aggregate(exts []*RustExtension, outcomes []targetOutcome, result *BuildResult, hard error) *BuildResult {
	if hard != nil {
		result.Err = hard
		for _, ext := range exts {
			result.Targets = append(result.Targets, TargetReport{Name: ext.Name, Status: StatusFailed, Err: hard})
		}
		return result
	}

	for i, ext := range exts {
		outcome := outcomes[i]
		result.Placed = append(result.Placed, outcome.placed...)
		result.Warnings = append(result.Warnings, outcome.warnings...)

		report := TargetReport{Name: ext.Name}
		switch {
		case outcome.err == nil:
			report.Status = StatusSucceeded
		case ext.Optional && !hardFailure(outcome.err):
			report.Status = StatusSkippedOptional
			report.Err = outcome.err
			warning := fmt.Sprintf("optional extension %q skipped: %v", ext.Name, outcome.err)
			result.Warnings = append(result.Warnings, warning)
			b.log.Warn().Str("extension", ext.Name).Err(outcome.err).Msg("optional extension failed")
		default:
			report.Status = StatusFailed
			report.Err = outcome.err
			// An aborted-but-never-started target must not mask the
			// failure that caused the abort.
			if result.Err == nil || (errors.Is(result.Err, errAborted) && !errors.Is(outcome.err, errAborted)) {
				result.Err = outcome.err
			}
		}
		result.Targets = append(result.Targets, report)
	}
	return result
}

// Clean removes the toolchain's build artifacts for every extension.
// Failures are aggregated, never fatal: a clean that removes nothing
// still leaves the next build able to reproduce identical placements.
func (b *Builder) Clean(ctx context.Context, exts []*RustExtension) error {
	var errs []error
	for _, ext := range exts {
		if err := b.Invoker.Clean(ctx, ext); err != nil {
			b.log.Warn().Str("extension", ext.Name).Err(err).Msg("clean failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
