package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// ErrAssemblyNotFound is returned when no search directory holds a referenced assembly.
var ErrAssemblyNotFound = errors.New("referenced assembly not found")

// assemblyExtensions are tried in order for each search directory.
var assemblyExtensions = []string{".dll", ".exe"}

// Resolver is the dependency-resolution context shared by every load of a run.
// It looks up referenced assemblies by name in its search directories and caches
// the result, including misses. One mutex serializes every cache fill.
type Resolver struct {
	dirs   []m.Path
	fs     BinaryFSAdapter
	loader ModuleLoader

	mu    sync.Mutex
	cache map[string]*m.Module
}

// NewResolver returns a resolver that searches dirs in order.
func NewResolver(fs BinaryFSAdapter, dirs ...m.Path) *Resolver {
	return &Resolver{
		dirs:   dirs,
		fs:     fs,
		loader: NewLocalModuleLoader(fs),
		cache:  map[string]*m.Module{},
	}
}

// Add registers an already loaded module under its assembly name. A later
// lookup of that name reuses it instead of reading the search directories.
func (r *Resolver) Add(module *m.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[module.Name] = module
}

// Module returns the assembly named scope, loading it on first use.
func (r *Resolver) Module(ctx context.Context, scope string) (*m.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if module, ok := r.cache[scope]; ok {
		if module == nil {
			return nil, fmt.Errorf("%w: %s", ErrAssemblyNotFound, scope)
		}

		return module, nil
	}

	module, err := r.find(ctx, scope)
	if err != nil && !errors.Is(err, ErrAssemblyNotFound) {
		return nil, err
	}

	r.cache[scope] = module

	return module, err
}

func (r *Resolver) find(ctx context.Context, scope string) (*m.Module, error) {
	for _, dir := range r.dirs {
		for _, ext := range assemblyExtensions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			path := r.fs.JoinPath(string(dir), scope+ext)

			data, err := r.fs.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}

			// Enum underlying types are primitives, so references are not followed.
			module, err := r.loader.LoadBytes(ctx, path, data, nil)
			if err != nil {
				slog.Warn("referenced assembly is not loadable", "scope", scope, "path", path, "error", err)
				continue
			}

			slog.Debug("referenced assembly resolved", "scope", scope, "path", path)

			return module, nil
		}
	}

	slog.Debug("referenced assembly not found", "scope", scope, "dirs", r.dirs)

	return nil, fmt.Errorf("%w: %s", ErrAssemblyNotFound, scope)
}

// EnumUnderlying implements TypeResolver.
func (r *Resolver) EnumUnderlying(ctx context.Context, scope, fullName string) (cil.ElementType, bool) {
	module, err := r.Module(ctx, scope)
	if err != nil {
		return 0, false
	}

	t, ok := module.Type(fullName)
	if !ok || t.EnumUnderlying == 0 {
		return 0, false
	}

	return t.EnumUnderlying, true
}
