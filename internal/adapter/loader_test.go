package adapter

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	"ilpatch.dev/pkg/ilpatch/internal/cil/ciltest"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

func loadSample(t *testing.T, asm ciltest.Assembly, resolver TypeResolver) *m.Module {
	t.Helper()

	path := filepath.Join(t.TempDir(), asm.Name+".dll")
	writeTestBytes(t, path, ciltest.MustBuild(asm))

	module, err := NewLocalModuleLoader(NewLocalBinaryFSAdapter()).Load(context.Background(), m.Path(path), resolver)
	require.NoError(t, err)

	return module
}

func TestLocalModuleLoader_Types(t *testing.T) {
	module := loadSample(t, ciltest.Sample(), nil)

	assert.Equal(t, ciltest.SampleName, module.Name)
	assert.Equal(t, m.ManagedOnly, module.Kind)

	var names []string
	for _, typ := range module.Types {
		names = append(names, typ.FullName)
	}

	assert.Equal(t, []string{
		"<Module>",
		ciltest.StateEnum,
		ciltest.TierEnum,
		ciltest.AppType,
		ciltest.AppType + "/" + ciltest.InnerType,
		ciltest.BaseType,
	}, names)

	state, ok := module.Type(ciltest.StateEnum)
	require.True(t, ok)
	assert.Equal(t, cil.ElementI4, state.EnumUnderlying)

	app, ok := module.Type(ciltest.AppType)
	require.True(t, ok)
	assert.Equal(t, cil.ElementType(0), app.EnumUnderlying)
	assert.Equal(t, "CheckLicense", app.Methods[0].Name)
	assert.Equal(t, "Beep", app.Methods[len(app.Methods)-1].Name)

	inner, ok := module.Type(ciltest.AppType + "/" + ciltest.InnerType)
	require.True(t, ok)
	require.Len(t, inner.Methods, 1)
	assert.Equal(t, ciltest.AppType+"/Inner::Ok", inner.Methods[0].FullName())
}

func TestLocalModuleLoader_ReturnKinds(t *testing.T) {
	module := loadSample(t, ciltest.Sample(), nil)
	app, _ := module.Type(ciltest.AppType)

	tests := []struct {
		method  string
		kind    m.ReturnKind
		element cil.ElementType
		hasBody bool
	}{
		{"CheckLicense", m.ReturnBoolean, cil.ElementBoolean, true},
		{"TrialDaysLeft", m.ReturnInteger, cil.ElementI4, true},
		{"Log", m.ReturnVoid, cil.ElementVoid, true},
		{"Banner", m.ReturnOther, cil.ElementString, true},
		{"State", m.ReturnInteger, cil.ElementI4, true},
		{"Tier", m.ReturnInteger, cil.ElementU1, true},
		{"Edition", m.ReturnOther, cil.ElementValueType, true},
		{"Serial", m.ReturnInteger, cil.ElementI8, true},
		{"Level", m.ReturnInteger, cil.ElementI2, true},
		{"Ticks", m.ReturnInteger, cil.ElementU8, true},
		{"Handle", m.ReturnOther, cil.ElementI, true},
		{"Counter", m.ReturnOther, cil.ElementI4, true},
		{"IsVisible", m.ReturnBoolean, cil.ElementBoolean, true},
		{"Beep", m.ReturnVoid, cil.ElementVoid, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			methods := app.Lookup(tt.method)
			require.Len(t, methods, 1)

			method := methods[0]
			assert.Equal(t, tt.kind, method.ReturnKind)
			assert.Equal(t, tt.element, method.ReturnType)
			assert.Equal(t, tt.hasBody, method.HasBody())
			assert.Equal(t, cil.TableMethodDef, method.Token.Table())
		})
	}

	base, _ := module.Type(ciltest.BaseType)
	assert.False(t, base.Methods[0].HasBody(), "abstract methods have no body")
}

func TestLocalModuleLoader_Bodies(t *testing.T) {
	module := loadSample(t, ciltest.Sample(), nil)
	app, _ := module.Type(ciltest.AppType)

	foo := app.Lookup("Foo")[0]
	require.NotNil(t, foo.Body)
	assert.Equal(t, 1, foo.Body.Locals)
	assert.Len(t, foo.Body.Handlers, 1)
	assert.True(t, foo.Body.InitLocals)
	assert.Equal(t, cil.TableStandAloneSig, foo.Body.LocalVarSig.Table())

	small := app.Lookup("Small")[0]
	assert.Equal(t, 3, small.Body.Size)

	// The recorded extent decodes back to the same instructions.
	extent := module.Image.Data[small.Body.Offset : small.Body.Offset+small.Body.Size]
	decoded, size, err := cil.DecodeBody(extent)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Equal(t, small.Body.Instructions, decoded.Instructions)

	enabled := app.Lookup("IsEnabled")[0]
	visible := app.Lookup("IsVisible")[0]
	assert.Equal(t, enabled.RVA, visible.RVA)
	assert.Equal(t, enabled.Body.Offset, visible.Body.Offset)
}

func TestLocalModuleLoader_ResolvesForeignEnums(t *testing.T) {
	deps := t.TempDir()
	writeTestBytes(t, filepath.Join(deps, ciltest.VendorName+".dll"), ciltest.MustBuild(ciltest.Vendor()))

	resolver := NewResolver(NewLocalBinaryFSAdapter(), m.Path(deps))
	module := loadSample(t, ciltest.Sample(), resolver)

	app, _ := module.Type(ciltest.AppType)
	edition := app.Lookup("Edition")[0]

	assert.Equal(t, m.ReturnInteger, edition.ReturnKind)
	assert.Equal(t, cil.ElementU2, edition.ReturnType)
}

func TestLocalModuleLoader_Mixed(t *testing.T) {
	module := loadSample(t, ciltest.MixedSample(), nil)

	assert.Equal(t, m.MixedNative, module.Kind)

	app, _ := module.Type(ciltest.AppType)
	native := app.Lookup("NativeCheck")[0]
	assert.NotZero(t, native.RVA)
	assert.False(t, native.HasBody())
}

func TestLocalModuleLoader_Errors(t *testing.T) {
	loader := NewLocalModuleLoader(NewLocalBinaryFSAdapter())
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := loader.Load(context.Background(), m.Path(filepath.Join(dir, "missing.dll")), nil)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not an image", func(t *testing.T) {
		path := filepath.Join(dir, "notes.dll")
		writeTestBytes(t, path, []byte("plain text"))

		_, err := loader.Load(context.Background(), m.Path(path), nil)
		require.ErrorIs(t, err, cil.ErrMalformedImage)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := loader.Load(ctx, m.Path(filepath.Join(dir, "any.dll")), nil)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("dangling method name", func(t *testing.T) {
		img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
		require.NoError(t, err)

		clone := img.Clone()
		require.NoError(t, clone.WriteCell(cil.TableMethodDef, 1, cil.ColMethodName, 0xFFF0))

		_, err = loader.LoadBytes(context.Background(), "broken.dll", clone.Data, nil)
		require.ErrorIs(t, err, cil.ErrDanglingReference)
	})

	t.Run("inflated row count", func(t *testing.T) {
		data := ciltest.MustBuild(ciltest.Sample())

		img, err := cil.Parse(data)
		require.NoError(t, err)

		binary.LittleEndian.PutUint32(data[img.TablesStream.Offset+24:], 0xFFFFFFFF)

		_, err = loader.LoadBytes(context.Background(), "inflated.dll", data, nil)
		require.ErrorIs(t, err, cil.ErrMalformedTables)
	})
}
