package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	"ilpatch.dev/pkg/ilpatch/internal/cil/ciltest"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// patchAndSerialize rewrites the named App methods and serializes the module.
func patchAndSerialize(t *testing.T, asm ciltest.Assembly, values map[string]m.Constant) (*m.Module, *Serialized, error) {
	t.Helper()

	module := loadModule(t, asm)
	for name, value := range values {
		require.NoError(t, Rewrite(findMethod(t, module, ciltest.AppType, name), value))
	}

	out, err := NewSerializer().Serialize(module)

	return module, out, err
}

func TestSerialize_Unchanged(t *testing.T) {
	for _, asm := range []ciltest.Assembly{ciltest.Sample(), ciltest.MixedSample()} {
		t.Run(asm.Name, func(t *testing.T) {
			data := ciltest.MustBuild(asm)

			module, out, err := patchAndSerialize(t, asm, nil)
			require.NoError(t, err)

			assert.Equal(t, data, out.Data)
			assert.Equal(t, data, module.Image.Data)
			assert.Nil(t, out.Section)
			assert.False(t, out.CertificateDropped)
		})
	}
}

func TestSerialize_InPlace(t *testing.T) {
	module, out, err := patchAndSerialize(t, ciltest.Sample(), map[string]m.Constant{
		"CheckLicense": m.Bool(true),
		"Foo":          m.Int(42),
	})
	require.NoError(t, err)

	assert.Nil(t, out.Section)
	assert.Empty(t, out.Relocated)
	assert.ElementsMatch(t, []string{ciltest.AppType + "::CheckLicense", ciltest.AppType + "::Foo"}, out.InPlace)
	assert.Len(t, out.Data, len(module.Image.Data))

	assert.Equal(t, returns(1), invoke(t, out.Data, ciltest.AppType, "CheckLicense"))
	assert.Equal(t, returns(42), invoke(t, out.Data, ciltest.AppType, "Foo"))
	assert.Equal(t, returns(23), invoke(t, out.Data, ciltest.AppType, "TrialDaysLeft"))

	// The tail of the old fat body is zeroed.
	foo := findMethod(t, module, ciltest.AppType, "Foo").Body
	encoded, err := cil.EncodeBody(foo.MethodBody())
	require.NoError(t, err)

	leftover := out.Data[foo.Offset+len(encoded) : foo.Offset+foo.Size]
	assert.Equal(t, make([]byte, len(leftover)), leftover)
	assert.Equal(t, ciltest.MustBuild(ciltest.Sample()), module.Image.Data, "input image must not be mutated")
}

func TestSerialize_Relocates(t *testing.T) {
	tests := []struct {
		name string
		asm  ciltest.Assembly
	}{
		{"managed", ciltest.Sample()},
		{"mixed", ciltest.MixedSample()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, out, err := patchAndSerialize(t, tt.asm, map[string]m.Constant{"Small": m.Int(99)})
			require.NoError(t, err)

			assert.Equal(t, []string{ciltest.AppType + "::Small"}, out.Relocated)
			require.NotNil(t, out.Section)
			assert.Equal(t, PatchSectionName, out.Section.Name)

			img, err := cil.Parse(out.Data)
			require.NoError(t, err)
			assert.Equal(t, PatchSectionName, img.Sections[len(img.Sections)-1].Name)

			rva, err := ciltest.FindRVA(img, ciltest.AppType, "Small")
			require.NoError(t, err)
			assert.Equal(t, out.Section.VirtualAddress, rva)
			assert.Zero(t, rva%bodyAlignment)

			assert.Equal(t, returns(99), invoke(t, out.Data, ciltest.AppType, "Small"))
			assert.Equal(t, returns(0), invoke(t, out.Data, ciltest.AppType, "CheckLicense"))

			// The original extent is left as it was.
			small := findMethod(t, module, ciltest.AppType, "Small").Body
			assert.Equal(t, module.Image.Data[small.Offset:small.Offset+small.Size],
				out.Data[small.Offset:small.Offset+small.Size])
		})
	}
}

func TestSerialize_MixedKeepsNativeCode(t *testing.T) {
	_, out, err := patchAndSerialize(t, ciltest.MixedSample(), map[string]m.Constant{
		"Small":        m.Int(99),
		"CheckLicense": m.Bool(true),
	})
	require.NoError(t, err)

	img, err := cil.Parse(out.Data)
	require.NoError(t, err)
	assert.False(t, img.IsILOnly())
	require.Len(t, img.Sections, 3)
	assert.Equal(t, ".native", img.Sections[1].Name)

	rva, err := ciltest.FindRVA(img, ciltest.AppType, "NativeCheck")
	require.NoError(t, err)

	native, err := img.Slice(rva, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0xC0, 0xC3}, native)
	assert.Equal(t, returns(1), invoke(t, out.Data, ciltest.AppType, "CheckLicense"))
}

func TestSerialize_SharedBody(t *testing.T) {
	t.Run("all sharers agree", func(t *testing.T) {
		_, out, err := patchAndSerialize(t, ciltest.Sample(), map[string]m.Constant{
			"IsEnabled": m.Bool(false),
			"IsVisible": m.Bool(false),
		})
		require.NoError(t, err)

		assert.Empty(t, out.Relocated)
		assert.Len(t, out.InPlace, 2)
		assert.Equal(t, returns(0), invoke(t, out.Data, ciltest.AppType, "IsEnabled"))
		assert.Equal(t, returns(0), invoke(t, out.Data, ciltest.AppType, "IsVisible"))
	})

	t.Run("one sharer patched", func(t *testing.T) {
		_, out, err := patchAndSerialize(t, ciltest.Sample(), map[string]m.Constant{
			"IsEnabled": m.Bool(false),
		})
		require.NoError(t, err)

		assert.Equal(t, []string{ciltest.AppType + "::IsEnabled"}, out.Relocated)
		assert.Equal(t, returns(0), invoke(t, out.Data, ciltest.AppType, "IsEnabled"))
		assert.Equal(t, returns(1), invoke(t, out.Data, ciltest.AppType, "IsVisible"))
	})
}

func TestSerialize_DedupesRelocatedBodies(t *testing.T) {
	_, out, err := patchAndSerialize(t, ciltest.Sample(), map[string]m.Constant{
		"Small": m.Int(99),
		"Level": m.Int(99),
	})
	require.NoError(t, err)
	require.Len(t, out.Relocated, 2)

	img, err := cil.Parse(out.Data)
	require.NoError(t, err)

	small, err := ciltest.FindRVA(img, ciltest.AppType, "Small")
	require.NoError(t, err)
	level, err := ciltest.FindRVA(img, ciltest.AppType, "Level")
	require.NoError(t, err)

	assert.Equal(t, small, level)
	assert.Equal(t, returns(99), invoke(t, out.Data, ciltest.AppType, "Level"))
}

func TestSerialize_DropsCertificate(t *testing.T) {
	asm := ciltest.Sample()
	asm.Certificate = []byte("0123456789abcdef")
	asm.Checksum = true

	module, out, err := patchAndSerialize(t, asm, map[string]m.Constant{"CheckLicense": m.Bool(true)})
	require.NoError(t, err)

	assert.True(t, out.CertificateDropped)
	assert.Len(t, out.Data, len(module.Image.Data)-len(asm.Certificate))

	img, err := cil.Parse(out.Data)
	require.NoError(t, err)
	assert.Equal(t, cil.Checksum(img.Data, img.ChecksumOffset()), img.Checksum())
}

func TestSerialize_DropsCertificateWhenRelocating(t *testing.T) {
	cert := []byte("CERTCERTCERTCERT")

	asm := ciltest.Sample()
	asm.Certificate = cert
	asm.Checksum = true

	_, out, err := patchAndSerialize(t, asm, map[string]m.Constant{"Small": m.Int(99)})
	require.NoError(t, err)

	assert.Equal(t, []string{ciltest.AppType + "::Small"}, out.Relocated)
	assert.True(t, out.CertificateDropped)
	assert.NotContains(t, string(out.Data), string(cert))

	img, err := cil.Parse(out.Data)
	require.NoError(t, err)
	assert.Equal(t, int(out.Section.PointerToRawData+out.Section.SizeOfRawData), len(img.Data))
	assert.Equal(t, cil.Checksum(img.Data, img.ChecksumOffset()), img.Checksum())
	assert.Equal(t, returns(int64(99)), invoke(t, out.Data, ciltest.AppType, "Small"))
}

func TestSerialize_NoHeaderRoom(t *testing.T) {
	asm := ciltest.Sample()
	asm.ExtraSections = 2

	module, out, err := patchAndSerialize(t, asm, map[string]m.Constant{"Small": m.Int(99)})
	require.Error(t, err)
	assert.Nil(t, out)

	assert.ErrorIs(t, err, ErrSerialization)
	assert.ErrorIs(t, err, cil.ErrNoHeaderRoom)

	var pe *PatchError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, module.Path, pe.Path)
	assert.Equal(t, "append section", pe.Op)
}

func TestSerialize_InPlaceStillFitsWithoutHeaderRoom(t *testing.T) {
	asm := ciltest.Sample()
	asm.ExtraSections = 2

	_, out, err := patchAndSerialize(t, asm, map[string]m.Constant{"TrialDaysLeft": m.Int(99)})
	require.NoError(t, err)

	assert.Nil(t, out.Section)
	assert.Equal(t, returns(99), invoke(t, out.Data, ciltest.AppType, "TrialDaysLeft"))
}
