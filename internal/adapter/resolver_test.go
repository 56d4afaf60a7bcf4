package adapter

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	"ilpatch.dev/pkg/ilpatch/internal/cil/ciltest"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// countingFS counts reads so tests can observe the resolver cache.
type countingFS struct {
	*LocalBinaryFSAdapter
	reads atomic.Int32
}

func (c *countingFS) ReadFile(path m.Path) ([]byte, error) {
	c.reads.Add(1)
	return c.LocalBinaryFSAdapter.ReadFile(path)
}

func TestResolver_EnumUnderlying(t *testing.T) {
	empty := t.TempDir()
	deps := t.TempDir()
	writeTestBytes(t, filepath.Join(deps, ciltest.VendorName+".dll"), ciltest.MustBuild(ciltest.Vendor()))

	resolver := NewResolver(NewLocalBinaryFSAdapter(), m.Path(empty), m.Path(deps))
	ctx := context.Background()

	underlying, ok := resolver.EnumUnderlying(ctx, ciltest.VendorName, ciltest.EditionEnum)
	require.True(t, ok)
	assert.Equal(t, cil.ElementU2, underlying)

	_, ok = resolver.EnumUnderlying(ctx, ciltest.VendorName, "Vendor.Shared.Missing")
	assert.False(t, ok)

	_, ok = resolver.EnumUnderlying(ctx, "Nowhere", "Nowhere.Edition")
	assert.False(t, ok)

	_, err := resolver.Module(ctx, "Nowhere")
	require.ErrorIs(t, err, ErrAssemblyNotFound)
}

func TestResolver_CachesLoadsAndMisses(t *testing.T) {
	deps := t.TempDir()
	writeTestBytes(t, filepath.Join(deps, ciltest.VendorName+".dll"), ciltest.MustBuild(ciltest.Vendor()))

	fs := &countingFS{LocalBinaryFSAdapter: NewLocalBinaryFSAdapter()}
	resolver := NewResolver(fs, m.Path(deps))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, ok := resolver.EnumUnderlying(ctx, ciltest.VendorName, ciltest.EditionEnum)
			assert.True(t, ok)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), fs.reads.Load())

	_, err := resolver.Module(ctx, "Late")
	require.ErrorIs(t, err, ErrAssemblyNotFound)

	// A miss stays cached for the lifetime of the resolver.
	writeTestBytes(t, filepath.Join(deps, "Late.dll"), ciltest.MustBuild(ciltest.Vendor()))

	_, err = resolver.Module(ctx, "Late")
	require.ErrorIs(t, err, ErrAssemblyNotFound)
}

func TestResolver_Add(t *testing.T) {
	module, err := NewLocalModuleLoader(NewLocalBinaryFSAdapter()).
		LoadBytes(context.Background(), "Vendor.Shared.dll", ciltest.MustBuild(ciltest.Vendor()), nil)
	require.NoError(t, err)

	resolver := NewResolver(NewLocalBinaryFSAdapter())
	resolver.Add(module)

	underlying, ok := resolver.EnumUnderlying(context.Background(), ciltest.VendorName, ciltest.EditionEnum)
	require.True(t, ok)
	assert.Equal(t, cil.ElementU2, underlying)
}

func TestResolver_SkipsUnloadableCandidates(t *testing.T) {
	bad := t.TempDir()
	good := t.TempDir()
	writeTestBytes(t, filepath.Join(bad, ciltest.VendorName+".dll"), []byte("not an image"))
	writeTestBytes(t, filepath.Join(good, ciltest.VendorName+".exe"), ciltest.MustBuild(ciltest.Vendor()))

	resolver := NewResolver(NewLocalBinaryFSAdapter(), m.Path(bad), m.Path(good))

	module, err := resolver.Module(context.Background(), ciltest.VendorName)
	require.NoError(t, err)
	assert.Equal(t, ciltest.VendorName, module.Name)
}
