package domain

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// Inspect loads every target concurrently, bounded by args.Threads, and lists
// their methods. Missing optional targets are left out. Loads share the
// resolver, which serializes its own cache updates.
func (w *workflow) Inspect(ctx context.Context, args InspectArgs) ([]m.Inspection, error) {
	results := make([]*m.Inspection, len(args.Targets))

	group, gctx := errgroup.WithContext(ctx)
	if args.Threads > 0 {
		group.SetLimit(int(args.Threads))
	}

	for i, target := range args.Targets {
		group.Go(func() error {
			source, err := ResolveSource(w.BinaryFSAdapter, target.Path)
			if errors.Is(err, ErrTargetMissing) && target.Policy == m.PolicyOptional {
				slog.Info("optional target missing, skipping", "path", target.Path)
				return nil
			}

			if err != nil {
				return err
			}

			module, err := w.Load(gctx, source, w.resolver)
			if err != nil {
				return newPatchError(KindLoad, source, "load", err)
			}

			w.register(module)

			inspection := inspectModule(module, target.Rules)
			results[i] = &inspection

			return nil
		})
	}

	err := group.Wait()

	inspections := make([]m.Inspection, 0, len(results))
	for _, r := range results {
		if r != nil {
			inspections = append(inspections, *r)
		}
	}

	return inspections, err
}

func inspectModule(module *m.Module, rules []m.PatchRule) m.Inspection {
	matched := map[*m.Method]bool{}
	for _, rule := range rules {
		for _, method := range LocateRule(module, rule) {
			matched[method] = true
		}
	}

	inspection := m.Inspection{
		Path:    module.Path,
		Name:    module.Name,
		Kind:    module.Kind,
		Size:    int64(len(module.Image.Data)),
		Methods: []m.MethodInfo{},
	}

	for _, method := range module.Methods() {
		info := m.MethodInfo{
			FullName:   method.FullName(),
			Token:      method.Token.String(),
			ReturnKind: method.ReturnKind,
			ReturnType: method.ReturnType.String(),
			HasBody:    method.HasBody(),
			Matched:    matched[method],
		}

		if method.Body != nil {
			info.BodySize = method.Body.Size
		}

		inspection.Methods = append(inspection.Methods, info)
	}

	return inspection
}
