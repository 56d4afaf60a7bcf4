package cil_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	"ilpatch.dev/pkg/ilpatch/internal/cil/ciltest"
)

func TestParse_Sample(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
	require.NoError(t, err)

	assert.True(t, img.IsILOnly())
	assert.False(t, img.Is64)
	assert.Equal(t, "v4.0.30319", img.RuntimeVersion)
	assert.Len(t, img.Sections, 1)
	assert.Contains(t, img.Streams, "#~")
	assert.Contains(t, img.Streams, "#Blob")

	// <Module>, two enums, App, App/Inner, Base.
	assert.Equal(t, 6, img.Tables.Rows(cil.TableTypeDef))
	assert.Equal(t, 1, img.Tables.Rows(cil.TableNestedClass))

	name, err := img.String(mustCell(t, img, cil.TableTypeDef, 4, cil.ColTypeDefName))
	require.NoError(t, err)
	assert.Equal(t, "App", name)

	for method, want := range map[string]int64{"CheckLicense": 0, "TrialDaysLeft": 23, "Foo": 7, "Small": 1, "Serial": 5} {
		body, err := ciltest.FindBody(img, ciltest.AppType, method)
		require.NoError(t, err, method)

		res, err := ciltest.Eval(body)
		require.NoError(t, err, method)
		assert.Equal(t, ciltest.Result{Value: want, HasValue: true}, res, method)
	}
}

func TestParse_Rejects(t *testing.T) {
	valid := ciltest.MustBuild(ciltest.Sample())

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"not a PE", func([]byte) []byte { return []byte("hello") }, cil.ErrMalformedImage},
		{"no CLI directory", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[0x98+96+14*8:], 0)
			return b
		}, cil.ErrNotManaged},
		{"bad metadata signature", func(b []byte) []byte {
			img, err := cil.Parse(valid)
			require.NoError(t, err)

			root := img.Streams["#~"].Offset
			for root > 0 && binary.LittleEndian.Uint32(b[root:]) != 0x424A5342 {
				root--
			}

			b[root] = 'X'

			return b
		}, cil.ErrMalformedImage},
		{"module row count too large", func(b []byte) []byte {
			img, err := cil.Parse(valid)
			require.NoError(t, err)

			binary.LittleEndian.PutUint32(b[img.TablesStream.Offset+24:], 0xFFFFFFFF)

			return b
		}, cil.ErrMalformedTables},
		{"method row count past stream end", func(b []byte) []byte {
			img, err := cil.Parse(valid)
			require.NoError(t, err)

			// Row counts are stored in table id order.
			pos := img.TablesStream.Offset + 24
			for id := cil.TableID(0); id < cil.TableMethodDef; id++ {
				if img.Tables.Valid&(1<<id) != 0 {
					pos += 4
				}
			}

			binary.LittleEndian.PutUint32(b[pos:], 0x3FFFFFFF)

			return b
		}, cil.ErrMalformedTables},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), valid...))

			_, err := cil.Parse(data)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTables_RoundTrip(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
	require.NoError(t, err)

	encoded, err := img.Tables.Encode(img.HeapLimits())
	require.NoError(t, err)
	assert.Len(t, encoded, img.TablesSize)

	stream := img.Data[img.TablesStream.Offset:]
	assert.Equal(t, stream[:img.TablesSize], encoded)
}

func TestTables_ValidateDangling(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
	require.NoError(t, err)

	tests := []struct {
		name  string
		table cil.TableID
		col   int
		value uint32
	}{
		{"string offset", cil.TableMethodDef, cil.ColMethodName, 0xFFF0},
		{"blob offset", cil.TableMethodDef, cil.ColMethodSignature, 0xFFF0},
		{"coded index row", cil.TableTypeDef, cil.ColTypeDefExtends, 40<<2 | 1},
		{"nested class row", cil.TableNestedClass, cil.ColNestedClassEnclosing, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := img.Tables.Clone()
			require.NoError(t, tables.SetCell(tt.table, 1, tt.col, tt.value))

			_, err := tables.Encode(img.HeapLimits())
			require.ErrorIs(t, err, cil.ErrDanglingReference)
		})
	}
}

func TestTables_DecodeCoded(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
	require.NoError(t, err)

	extends := mustCell(t, img, cil.TableTypeDef, 2, cil.ColTypeDefExtends)

	tok, err := img.Tables.DecodeCoded(cil.TableTypeDef, cil.ColTypeDefExtends, extends)
	require.NoError(t, err)
	assert.Equal(t, cil.TableTypeRef, tok.Table())

	ns, _ := img.String(mustCell(t, img, cil.TableTypeRef, tok.RID(), cil.ColTypeRefNamespace))
	name, _ := img.String(mustCell(t, img, cil.TableTypeRef, tok.RID(), cil.ColTypeRefName))
	assert.Equal(t, "System.Enum", ns+"."+name)
}

func TestImage_AppendSection(t *testing.T) {
	asm := ciltest.Sample()
	asm.Overlay = []byte("trailing-overlay")
	data := ciltest.MustBuild(asm)

	img, err := cil.Parse(data)
	require.NoError(t, err)

	clone := img.Clone()
	rva := clone.NextSectionRVA()

	section, err := clone.AppendSection(".ilpatch", []byte{0x0A, 0x17, 0x2A}, cil.SectionCodeDefault)
	require.NoError(t, err)
	assert.Equal(t, rva, section.VirtualAddress)
	assert.Equal(t, data, img.Data, "original image must not change")
	assert.Equal(t, "trailing-overlay", string(clone.Data[len(clone.Data)-16:]))

	reparsed, err := cil.Parse(clone.Data)
	require.NoError(t, err)
	require.Len(t, reparsed.Sections, 2)
	assert.Equal(t, ".ilpatch", reparsed.Sections[1].Name)

	code, err := reparsed.Slice(rva, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x17, 0x2A}, code)
}

func TestImage_AppendSectionNoRoom(t *testing.T) {
	asm := ciltest.Sample()
	asm.ExtraSections = 2

	img, err := cil.Parse(ciltest.MustBuild(asm))
	require.NoError(t, err)
	assert.False(t, img.HeaderRoom())

	_, err = img.Clone().AppendSection(".ilpatch", []byte{0x2A}, cil.SectionCodeDefault)
	require.ErrorIs(t, err, cil.ErrNoHeaderRoom)
}

func TestImage_DropCertificateAndChecksum(t *testing.T) {
	asm := ciltest.Sample()
	asm.Certificate = []byte("0123456789abcdef")
	asm.Checksum = true
	data := ciltest.MustBuild(asm)

	img, err := cil.Parse(data)
	require.NoError(t, err)
	require.NotZero(t, img.Checksum())
	assert.Equal(t, cil.Checksum(img.Data, img.ChecksumOffset()), img.Checksum())

	clone := img.Clone()
	assert.True(t, clone.DropCertificate())
	assert.Len(t, clone.Data, len(data)-16)
	assert.False(t, clone.DropCertificate())

	clone.UpdateChecksum()
	assert.Equal(t, cil.Checksum(clone.Data, clone.ChecksumOffset()), clone.Checksum())
}

func TestImage_WriteCell(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.Sample()))
	require.NoError(t, err)

	clone := img.Clone()
	require.NoError(t, clone.WriteCell(cil.TableMethodDef, 1, cil.ColMethodRVA, 0x4000))

	reparsed, err := cil.Parse(clone.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4000), mustCell(t, reparsed, cil.TableMethodDef, 1, cil.ColMethodRVA))
	assert.NotEqual(t, uint32(0x4000), mustCell(t, img, cil.TableMethodDef, 1, cil.ColMethodRVA))
}

func TestImage_MixedSample(t *testing.T) {
	img, err := cil.Parse(ciltest.MustBuild(ciltest.MixedSample()))
	require.NoError(t, err)

	assert.False(t, img.IsILOnly())
	require.Len(t, img.Sections, 2)
	assert.Equal(t, ".native", img.Sections[1].Name)

	rva, err := ciltest.FindRVA(img, ciltest.AppType, "NativeCheck")
	require.NoError(t, err)

	native, err := img.Slice(rva, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0xC0, 0xC3}, native)
}

func mustCell(t *testing.T, img *cil.Image, id cil.TableID, rid uint32, col int) uint32 {
	t.Helper()

	v, err := img.Tables.Cell(id, rid, col)
	require.NoError(t, err)

	return v
}
