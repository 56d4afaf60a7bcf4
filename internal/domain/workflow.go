package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"

	"ilpatch.dev/pkg/ilpatch/internal/adapter"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// PatchArgs contains the arguments of one patch run.
type PatchArgs struct {
	Targets []m.Target
	// KeepBackup copies each target to its backup path before replacing it.
	KeepBackup bool
	// DryRun rewrites and serializes in memory but writes nothing.
	DryRun bool
	// Diff records an IL listing diff of every rewritten body in the report.
	Diff bool
	// Continue moves on to the next target when a required target fails.
	Continue bool
	// SkipUnsupported skips methods whose return type cannot take the rule's
	// constant instead of failing the target.
	SkipUnsupported bool
}

// InspectArgs contains the arguments of an inspect run.
type InspectArgs struct {
	Targets []m.Target
	Threads uint
}

// Workflow runs the patch pipeline over configured targets.
type Workflow interface {
	// Patch runs Load, Locate, Rewrite, Serialize and Replace for each target in
	// order. The report is returned even when err is not nil.
	Patch(ctx context.Context, args PatchArgs) (*m.PatchReport, error)

	// Inspect loads targets concurrently and lists their methods.
	Inspect(ctx context.Context, args InspectArgs) ([]m.Inspection, error)
}

type workflow struct {
	adapter.BinaryFSAdapter
	adapter.ModuleLoader
	Serializer
	Replacer

	resolver adapter.TypeResolver
	now      func() time.Time
	newRunID func() string
}

// NewWorkflow creates a Workflow with the provided dependencies. resolver may be nil.
func NewWorkflow(
	fsAdapter adapter.BinaryFSAdapter,
	loader adapter.ModuleLoader,
	resolver adapter.TypeResolver,
	serializer Serializer,
	replacer Replacer,
) Workflow {
	return &workflow{
		BinaryFSAdapter: fsAdapter,
		ModuleLoader:    loader,
		Serializer:      serializer,
		Replacer:        replacer,
		resolver:        resolver,
		now:             time.Now,
		newRunID:        func() string { return uuid.Must(uuid.NewV4()).String() },
	}
}

// preparedTarget is a target whose source file has been resolved.
type preparedTarget struct {
	target m.Target
	source m.Path
	// skip holds the reason an optional target is skipped.
	skip string
	err  error
}

func (w *workflow) Patch(ctx context.Context, args PatchArgs) (*m.PatchReport, error) {
	report := &m.PatchReport{RunID: w.newRunID(), StartedAt: w.now(), DryRun: args.DryRun}

	prepared, err := w.prepare(args)
	if err != nil {
		return report, err
	}

	var failures *multierror.Error

	for _, p := range prepared {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(failures.ErrorOrNil(), err)
		}

		tr := m.TargetReport{Path: p.target.Path, Methods: []string{}}

		if p.skip != "" {
			tr.Skipped = p.skip
			report.Targets = append(report.Targets, tr)

			continue
		}

		err := p.err
		if err == nil {
			tr, err = w.patchTarget(ctx, p, args)
		}

		if err == nil {
			report.Targets = append(report.Targets, tr)
			continue
		}

		tr.Error = err.Error()
		report.Targets = append(report.Targets, tr)

		if p.target.Policy == m.PolicyOptional {
			slog.Warn("optional target failed", "path", p.target.Path, "error", err)
			continue
		}

		failures = multierror.Append(failures, err)

		if !args.Continue {
			return report, failures.ErrorOrNil()
		}

		slog.Error("target failed, continuing", "path", p.target.Path, "error", err)
	}

	return report, failures.ErrorOrNil()
}

// prepare resolves every source and checks directory access before anything
// is loaded. An unavailable required target aborts unless Continue is set; an
// unavailable optional one is recorded as failed. An unwritable directory
// always aborts.
func (w *workflow) prepare(args PatchArgs) ([]preparedTarget, error) {
	prepared := make([]preparedTarget, 0, len(args.Targets))
	checked := map[string]error{}

	for _, target := range args.Targets {
		p := preparedTarget{target: target}

		source, err := ResolveSource(w.BinaryFSAdapter, target.Path)

		switch {
		case errors.Is(err, ErrTargetMissing) && target.Policy == m.PolicyOptional:
			slog.Info("optional target missing, skipping", "path", target.Path)

			p.skip = "target missing"
		case err != nil && target.Policy == m.PolicyOptional:
			slog.Warn("optional target unavailable", "path", target.Path, "error", err)

			p.err = err
		case err != nil && !args.Continue:
			slog.Error("target unavailable", "path", target.Path, "error", err)
			return nil, err
		case err != nil:
			p.err = err
		}

		p.source = source

		if p.skip == "" && p.err == nil && !args.DryRun {
			dir := filepath.Dir(string(CanonicalPath(target.Path)))

			if _, ok := checked[dir]; !ok {
				checked[dir] = w.CheckWritable(m.Path(dir))
			}

			if err := checked[dir]; err != nil {
				slog.Error("target directory not writable", "dir", dir, "error", err)
				return nil, newPatchError(KindAccessDenied, target.Path, "check "+dir, err)
			}
		}

		prepared = append(prepared, p)
	}

	return prepared, nil
}

func (w *workflow) patchTarget(ctx context.Context, p preparedTarget, args PatchArgs) (m.TargetReport, error) {
	tr := m.TargetReport{Path: p.target.Path, Methods: []string{}}

	module, err := w.Load(ctx, p.source, w.resolver)
	if err != nil {
		slog.Error("load failed", "path", p.source, "error", err)
		return tr, newPatchError(KindLoad, p.source, "load", err)
	}

	tr.Kind = module.Kind
	w.register(module)

	patched, diffs, err := applyRules(module, p.target.Rules, args)
	if err != nil {
		return tr, err
	}

	if len(patched) == 0 {
		slog.Info("no methods matched, target left unchanged", "path", p.target.Path)
		return tr, nil
	}

	tr.Methods = patched
	tr.Diff = strings.Join(diffs, "")

	out, err := w.Serialize(module)
	if err != nil {
		return tr, err
	}

	tr.Relocated = out.Relocated
	tr.CertificateDropped = out.CertificateDropped
	tr.Size = int64(len(out.Data))

	if out.CertificateDropped {
		slog.Warn("authenticode signature removed", "path", p.target.Path)
	}

	if args.DryRun {
		slog.Info("dry run, target not written", "path", p.target.Path, "methods", len(patched))
		return tr, nil
	}

	replaced, err := w.Replace(ctx, p.source, out.Data, args.KeepBackup)
	if err != nil {
		return tr, err
	}

	tr.Output = replaced.Output
	tr.Backup = replaced.Backup

	return tr, nil
}

// register hands a loaded target to the resolver so later targets that
// reference it resolve without reading it again.
func (w *workflow) register(module *m.Module) {
	if registry, ok := w.resolver.(adapter.ModuleRegistry); ok {
		registry.Add(module)
	}
}

// applyRules rewrites every method the rules select. A method matched by more
// than one rule takes the constant of the last rule and is reported once.
func applyRules(module *m.Module, rules []m.PatchRule, args PatchArgs) ([]string, []string, error) {
	var (
		patched []string
		diffs   []string
	)

	seen := map[*m.Method]bool{}

	for _, rule := range rules {
		methods := LocateRule(module, rule)
		if len(methods) == 0 {
			slog.Debug("rule matched nothing", "path", module.Path, "rule", rule.Description)
			continue
		}

		for _, method := range methods {
			before := ""
			if args.Diff {
				before = ListBody(method.Body)
			}

			if err := Rewrite(method, rule.Constant); err != nil {
				var pe *PatchError
				if errors.As(err, &pe) {
					pe.Path = module.Path
				}

				if args.SkipUnsupported {
					slog.Warn("method skipped", "method", method.FullName(), "rule", rule.Description, "error", err)
					continue
				}

				slog.Error("rewrite failed", "method", method.FullName(), "rule", rule.Description, "error", err)

				return nil, nil, err
			}

			slog.Info("method patched", "method", method.FullName(), "rule", rule.Description)

			if args.Diff {
				diff, err := BodyDiff(method.FullName(), before, ListBody(method.Body))
				if err != nil {
					return nil, nil, fmt.Errorf("diff %s: %w", method.FullName(), err)
				}

				diffs = append(diffs, diff)
			}

			if !seen[method] {
				seen[method] = true

				patched = append(patched, method.FullName())
			}
		}
	}

	return patched, diffs, nil
}
