package cil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotManaged is returned for PE images without a CLI header.
var ErrNotManaged = errors.New("image has no CLI header")

// ErrMalformedImage is returned when the PE container or the metadata root is invalid.
var ErrMalformedImage = errors.New("malformed image")

// CLI header flags.
const (
	CLIFlagILOnly = 0x00000001
)

const (
	cliHeaderSize      = 72
	metadataSignature  = 0x424A5342
	sectionHeaderSize  = 40
	dirSecurity        = 4
	dirCLI             = 14
	optChecksumOffset  = 64
	optSizeOfImage     = 56
	optSizeOfCode      = 4
	optDataDirs32      = 96
	optDataDirs64      = 112
	coffNumberSections = 6
)

// Section mirrors a PE section header.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
	Characteristics  uint32
}

func (s Section) contains(rva uint32) bool {
	return rva >= s.VirtualAddress && rva-s.VirtualAddress < max(s.VirtualSize, s.SizeOfRawData)
}

// Stream is a metadata stream located by its absolute file offset.
type Stream struct {
	Name   string
	Offset int
	Size   int
}

// Image is a parsed CLI image. Data holds the whole file; every offset is relative to it.
type Image struct {
	Data             []byte
	Is64             bool
	Sections         []Section
	FileAlignment    uint32
	SectionAlignment uint32
	SizeOfHeaders    uint32
	CLIFlags         uint32
	RuntimeVersion   string
	Streams          map[string]Stream
	Tables           *Tables
	TablesStream     Stream
	TablesSize       int

	strings []byte
	blob    []byte
	guid    []byte

	peOffset      int
	optOffset     int
	sectionOffset int
	dataDirOffset int
}

// Parse parses a PE image carrying ECMA-335 metadata. data is retained.
func Parse(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}

	defer func() { _ = f.Close() }()

	img := &Image{Data: data, Streams: map[string]Stream{}}

	var cliDir pe.DataDirectory

	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= dirCLI {
			return nil, ErrNotManaged
		}

		cliDir = oh.DataDirectory[dirCLI]
		img.FileAlignment, img.SectionAlignment, img.SizeOfHeaders = oh.FileAlignment, oh.SectionAlignment, oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= dirCLI {
			return nil, ErrNotManaged
		}

		cliDir = oh.DataDirectory[dirCLI]
		img.FileAlignment, img.SectionAlignment, img.SizeOfHeaders = oh.FileAlignment, oh.SectionAlignment, oh.SizeOfHeaders
		img.Is64 = true
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrMalformedImage)
	}

	if cliDir.VirtualAddress == 0 {
		return nil, ErrNotManaged
	}

	if img.FileAlignment == 0 || img.SectionAlignment == 0 {
		return nil, fmt.Errorf("%w: zero alignment", ErrMalformedImage)
	}

	for _, s := range f.Sections {
		img.Sections = append(img.Sections, Section{
			Name:             s.Name,
			VirtualAddress:   s.VirtualAddress,
			VirtualSize:      s.VirtualSize,
			PointerToRawData: s.Offset,
			SizeOfRawData:    s.Size,
			Characteristics:  s.Characteristics,
		})
	}

	img.peOffset = int(binary.LittleEndian.Uint32(data[0x3C:]))
	img.optOffset = img.peOffset + 24
	img.sectionOffset = img.optOffset + int(f.FileHeader.SizeOfOptionalHeader)
	img.dataDirOffset = img.optOffset + optDataDirs32

	if img.Is64 {
		img.dataDirOffset = img.optOffset + optDataDirs64
	}

	if err := img.parseCLI(cliDir.VirtualAddress); err != nil {
		return nil, err
	}

	return img, nil
}

func (img *Image) parseCLI(rva uint32) error {
	cli, err := img.Slice(rva, cliHeaderSize)
	if err != nil {
		return fmt.Errorf("CLI header: %w", err)
	}

	img.CLIFlags = binary.LittleEndian.Uint32(cli[16:])
	metaRVA := binary.LittleEndian.Uint32(cli[8:])
	metaSize := binary.LittleEndian.Uint32(cli[12:])

	root, err := img.Slice(metaRVA, int(metaSize))
	if err != nil {
		return fmt.Errorf("metadata root: %w", err)
	}

	rootOffset, _ := img.RVAToOffset(metaRVA)

	if len(root) < 16 || binary.LittleEndian.Uint32(root) != metadataSignature {
		return fmt.Errorf("%w: bad metadata signature", ErrMalformedImage)
	}

	versionLen := int(binary.LittleEndian.Uint32(root[12:]))
	if versionLen > len(root)-20 {
		return fmt.Errorf("%w: bad metadata version length %d", ErrMalformedImage, versionLen)
	}

	img.RuntimeVersion = string(bytes.TrimRight(root[16:16+versionLen], "\x00"))
	pos := 16 + versionLen
	streamCount := int(binary.LittleEndian.Uint16(root[pos+2:]))
	pos += 4

	for i := 0; i < streamCount; i++ {
		if pos+8 > len(root) {
			return fmt.Errorf("%w: truncated stream header", ErrMalformedImage)
		}

		offset := int(binary.LittleEndian.Uint32(root[pos:]))
		size := int(binary.LittleEndian.Uint32(root[pos+4:]))
		pos += 8

		nameEnd := bytes.IndexByte(root[pos:], 0)
		if nameEnd < 0 {
			return fmt.Errorf("%w: unterminated stream name", ErrMalformedImage)
		}

		name := string(root[pos : pos+nameEnd])
		pos = align(pos+nameEnd+1, 4)

		if offset < 0 || size < 0 || offset > len(root) || size > len(root)-offset {
			return fmt.Errorf("%w: stream %s outside metadata", ErrMalformedImage, name)
		}

		img.Streams[name] = Stream{Name: name, Offset: rootOffset + offset, Size: size}
	}

	img.strings = img.streamBytes("#Strings")
	img.blob = img.streamBytes("#Blob")
	img.guid = img.streamBytes("#GUID")

	tables, ok := img.Streams["#~"]
	if !ok {
		tables, ok = img.Streams["#-"]
	}

	if !ok {
		return fmt.Errorf("%w: no table stream", ErrMalformedImage)
	}

	img.TablesStream = tables

	img.Tables, img.TablesSize, err = DecodeTables(img.Data[tables.Offset : tables.Offset+tables.Size])
	if err != nil {
		return err
	}

	return nil
}

func (img *Image) streamBytes(name string) []byte {
	s, ok := img.Streams[name]
	if !ok {
		return nil
	}

	return img.Data[s.Offset : s.Offset+s.Size]
}

// IsILOnly reports whether the image contains managed code only.
func (img *Image) IsILOnly() bool {
	return img.CLIFlags&CLIFlagILOnly != 0
}

// RVAToOffset maps an RVA to a file offset.
func (img *Image) RVAToOffset(rva uint32) (int, error) {
	if rva < img.SizeOfHeaders {
		return int(rva), nil
	}

	for _, s := range img.Sections {
		if !s.contains(rva) {
			continue
		}

		delta := rva - s.VirtualAddress
		if delta >= s.SizeOfRawData {
			return 0, fmt.Errorf("%w: RVA 0x%X has no file data in %s", ErrMalformedImage, rva, s.Name)
		}

		return int(s.PointerToRawData + delta), nil
	}

	return 0, fmt.Errorf("%w: RVA 0x%X outside all sections", ErrMalformedImage, rva)
}

// Slice returns n bytes at rva.
func (img *Image) Slice(rva uint32, n int) ([]byte, error) {
	off, err := img.RVAToOffset(rva)
	if err != nil {
		return nil, err
	}

	if n < 0 || off+n > len(img.Data) || off+n > img.rawEnd(off) {
		return nil, fmt.Errorf("%w: %d bytes at RVA 0x%X exceed file data", ErrMalformedImage, n, rva)
	}

	return img.Data[off : off+n], nil
}

// Tail returns the bytes from rva to the end of its section's file data.
func (img *Image) Tail(rva uint32) ([]byte, int, error) {
	off, err := img.RVAToOffset(rva)
	if err != nil {
		return nil, 0, err
	}

	end := min(img.rawEnd(off), len(img.Data))

	return img.Data[off:end], off, nil
}

func (img *Image) rawEnd(off int) int {
	if off < int(img.SizeOfHeaders) {
		return int(img.SizeOfHeaders)
	}

	for _, s := range img.Sections {
		start := int(s.PointerToRawData)
		if off >= start && off < start+int(s.SizeOfRawData) {
			return start + int(s.SizeOfRawData)
		}
	}

	return len(img.Data)
}

// String reads a #Strings entry.
func (img *Image) String(index uint32) (string, error) {
	if index == 0 {
		return "", nil
	}

	if int(index) >= len(img.strings) {
		return "", fmt.Errorf("%w: #Strings offset 0x%X", ErrDanglingReference, index)
	}

	end := bytes.IndexByte(img.strings[index:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at 0x%X", ErrMalformedImage, index)
	}

	return string(img.strings[index : int(index)+end]), nil
}

// Blob reads a #Blob entry.
func (img *Image) Blob(index uint32) ([]byte, error) {
	if int(index) >= len(img.blob) {
		return nil, fmt.Errorf("%w: #Blob offset 0x%X", ErrDanglingReference, index)
	}

	size, n, err := DecodeCompressed(img.blob[index:])
	if err != nil {
		return nil, err
	}

	start := int(index) + n
	if uint64(size) > uint64(len(img.blob)-start) {
		return nil, fmt.Errorf("%w: blob at 0x%X overruns heap", ErrMalformedImage, index)
	}

	return img.blob[start : start+int(size)], nil
}

// HeapLimits returns the validation bounds of the heaps.
func (img *Image) HeapLimits() HeapLimits {
	return HeapLimits{
		Strings:   uint32(len(img.strings)),
		Blob:      uint32(len(img.blob)),
		GUIDCount: uint32(len(img.guid) / 16),
	}
}

// Clone returns a deep copy whose Data and Tables can be modified independently.
// Heap slices keep pointing at the original bytes; they are never written.
func (img *Image) Clone() *Image {
	clone := *img
	clone.Data = bytes.Clone(img.Data)
	clone.Sections = append([]Section(nil), img.Sections...)
	clone.Tables = img.Tables.Clone()

	return &clone
}

// Clone deep-copies the table set.
func (t *Tables) Clone() *Tables {
	clone := *t
	for i, tbl := range t.tables {
		if tbl != nil {
			clone.tables[i] = &Table{ID: tbl.ID, width: tbl.width, cells: append([]uint32(nil), tbl.cells...)}
		}
	}

	return &clone
}
