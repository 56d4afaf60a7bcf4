package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// ErrMalformedTables is returned when the table stream cannot be decoded.
var ErrMalformedTables = errors.New("malformed metadata tables")

// ErrDanglingReference is returned when a table cell points outside its target.
var ErrDanglingReference = errors.New("dangling metadata reference")

// TableID identifies a metadata table.
type TableID uint8

// Metadata tables (ECMA-335 II.22).
const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableENCLog                 TableID = 0x1E
	TableENCMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C
)

const tableCount = 0x2D

const tableNone TableID = 0xFF

// Token is a metadata token: table in the high byte, 1-based row in the low 24 bits.
type Token uint32

// NewToken builds a token.
func NewToken(table TableID, rid uint32) Token {
	return Token(uint32(table)<<24 | rid&0xFFFFFF)
}

// Table returns the token's table.
func (t Token) Table() TableID { return TableID(t >> 24) }

// RID returns the token's row.
func (t Token) RID() uint32 { return uint32(t) & 0xFFFFFF }

func (t Token) String() string { return fmt.Sprintf("0x%08X", uint32(t)) }

// Heap-size flags of the table stream header.
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

type colKind uint8

const (
	colU8 colKind = iota
	colU16
	colU32
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type codedKind uint8

const (
	codedTypeDefOrRef codedKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

var codedTables = [...][]TableID{
	codedTypeDefOrRef:        {TableTypeDef, TableTypeRef, TableTypeSpec},
	codedHasConstant:         {TableField, TableParam, TableProperty},
	codedHasCustomAttribute:  {TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl, TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig, TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType, TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec},
	codedHasFieldMarshal:     {TableField, TableParam},
	codedHasDeclSecurity:     {TableTypeDef, TableMethodDef, TableAssembly},
	codedMemberRefParent:     {TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec},
	codedHasSemantics:        {TableEvent, TableProperty},
	codedMethodDefOrRef:      {TableMethodDef, TableMemberRef},
	codedMemberForwarded:     {TableField, TableMethodDef},
	codedImplementation:      {TableFile, TableAssemblyRef, TableExportedType},
	codedCustomAttributeType: {tableNone, tableNone, TableMethodDef, TableMemberRef, tableNone},
	codedResolutionScope:     {TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef},
	codedTypeOrMethodDef:     {TableTypeDef, TableMethodDef},
}

func (c codedKind) tagBits() uint {
	return uint(bits.Len(uint(len(codedTables[c]) - 1)))
}

type column struct {
	kind   colKind
	table  TableID
	coded  codedKind
	isList bool
}

func u8() column { return column{kind: colU8} }
func u16() column { return column{kind: colU16} }
func u32() column { return column{kind: colU32} }
func str() column { return column{kind: colString} }
func guid() column { return column{kind: colGUID} }
func blob() column { return column{kind: colBlob} }
func idx(t TableID) column { return column{kind: colIndex, table: t} }
func list(t TableID) column { return column{kind: colIndex, table: t, isList: true} }
func coded(c codedKind) column { return column{kind: colCoded, coded: c} }

var schemas = [tableCount][]column{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(codedResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), list(TableField), list(TableMethodDef)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethodDef)},
	TableMethodDef:              {u32(), u16(), u16(), str(), blob(), list(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(codedTypeDefOrRef)},
	TableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	TableConstant:               {u8(), u8(), coded(codedHasConstant), blob()},
	TableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), list(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), list(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethodDef), coded(codedHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableENCLog:                 {u32(), u32()},
	TableENCMap:                 {u32()},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(codedTypeDefOrRef)},
}

// Column positions used outside this file.
const (
	ColTypeRefScope     = 0
	ColTypeRefName      = 1
	ColTypeRefNamespace = 2

	ColTypeDefFlags      = 0
	ColTypeDefName       = 1
	ColTypeDefNamespace  = 2
	ColTypeDefExtends    = 3
	ColTypeDefFieldList  = 4
	ColTypeDefMethodList = 5

	ColFieldFlags     = 0
	ColFieldName      = 1
	ColFieldSignature = 2

	ColMethodRVA       = 0
	ColMethodImplFlags = 1
	ColMethodFlags     = 2
	ColMethodName      = 3
	ColMethodSignature = 4

	ColPtrTarget = 0

	ColStandAloneSigBlob = 0

	ColAssemblyName    = 7
	ColAssemblyRefName = 6

	ColNestedClassNested    = 0
	ColNestedClassEnclosing = 1
)

// Table holds the decoded rows of one metadata table.
type Table struct {
	ID    TableID
	cells []uint32
	width int
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	if t == nil || t.width == 0 {
		return 0
	}

	return len(t.cells) / t.width
}

// HeapLimits bounds heap indices during validation.
type HeapLimits struct {
	Strings   uint32
	Blob      uint32
	GUIDCount uint32
}

// Tables is the decoded table stream.
type Tables struct {
	Reserved     uint32
	MajorVersion uint8
	MinorVersion uint8
	HeapSizes    uint8
	Reserved2    uint8
	Valid        uint64
	Sorted       uint64
	ExtraData    uint32

	tables [tableCount]*Table
}

// NewTables returns an empty table set with the standard 2.0 header.
func NewTables(heapSizes uint8) *Tables {
	return &Tables{MajorVersion: 2, HeapSizes: heapSizes, Reserved: 0, Reserved2: 1}
}

// Rows returns the row count of table id.
func (t *Tables) Rows(id TableID) int {
	if int(id) >= tableCount {
		return 0
	}

	return t.tables[id].Rows()
}

// AddRow appends a row and returns its 1-based row id.
func (t *Tables) AddRow(id TableID, cells ...uint32) uint32 {
	if len(cells) != len(schemas[id]) {
		panic(fmt.Sprintf("table 0x%02X: %d cells, want %d", id, len(cells), len(schemas[id])))
	}

	tbl := t.tables[id]
	if tbl == nil {
		tbl = &Table{ID: id, width: len(schemas[id])}
		t.tables[id] = tbl
	}

	tbl.cells = append(tbl.cells, cells...)
	t.Valid |= 1 << id

	return uint32(tbl.Rows())
}

// Row returns the cells of row rid (1-based). The slice aliases the table.
func (t *Tables) Row(id TableID, rid uint32) ([]uint32, error) {
	tbl := t.tables[id]
	if rid == 0 || int(rid) > tbl.Rows() {
		return nil, fmt.Errorf("%w: row %d of table 0x%02X (%d rows)", ErrDanglingReference, rid, id, tbl.Rows())
	}

	start := int(rid-1) * tbl.width

	return tbl.cells[start : start+tbl.width], nil
}

// Cell returns one cell.
func (t *Tables) Cell(id TableID, rid uint32, col int) (uint32, error) {
	row, err := t.Row(id, rid)
	if err != nil {
		return 0, err
	}

	return row[col], nil
}

// SetCell overwrites one cell.
func (t *Tables) SetCell(id TableID, rid uint32, col int, v uint32) error {
	row, err := t.Row(id, rid)
	if err != nil {
		return err
	}

	row[col] = v

	return nil
}

// DecodeCoded splits a coded-index cell of the given table column into a token.
func (t *Tables) DecodeCoded(id TableID, col int, v uint32) (Token, error) {
	c := schemas[id][col]
	if c.kind != colCoded {
		return 0, fmt.Errorf("table 0x%02X column %d is not a coded index", id, col)
	}

	tagBits := c.coded.tagBits()
	tag := v & (1<<tagBits - 1)
	targets := codedTables[c.coded]

	if int(tag) >= len(targets) || targets[tag] == tableNone {
		return 0, fmt.Errorf("%w: coded index tag %d", ErrDanglingReference, tag)
	}

	return NewToken(targets[tag], v>>tagBits), nil
}

func (t *Tables) colSize(c column) int {
	return colSizeWith(c, t.HeapSizes, t.Rows)
}

// colSizeWith sizes a column from heap flags and a row count per table.
func colSizeWith(c column, heapSizes uint8, rows func(TableID) int) int {
	heapSize := func(flag uint8) int {
		if heapSizes&flag != 0 {
			return 4
		}

		return 2
	}

	switch c.kind {
	case colU8:
		return 1
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return heapSize(heapStringsWide)
	case colGUID:
		return heapSize(heapGUIDWide)
	case colBlob:
		return heapSize(heapBlobWide)
	case colIndex:
		if rows(c.table) < 1<<16 {
			return 2
		}

		return 4
	default:
		limit := 1 << (16 - c.coded.tagBits())
		for _, target := range codedTables[c.coded] {
			if target != tableNone && rows(target) >= limit {
				return 4
			}
		}

		return 2
	}
}

func (t *Tables) rowSize(id TableID) int {
	size := 0
	for _, c := range schemas[id] {
		size += t.colSize(c)
	}

	return size
}

func (t *Tables) headerSize() int {
	size := 24 + 4*bits.OnesCount64(t.Valid)
	if t.HeapSizes&heapExtraData != 0 {
		size += 4
	}

	return size
}

// CellOffset returns the byte offset of a cell from the start of the table stream.
func (t *Tables) CellOffset(id TableID, rid uint32, col int) (int, error) {
	if _, err := t.Row(id, rid); err != nil {
		return 0, err
	}

	offset := t.headerSize()
	for i := TableID(0); i < id; i++ {
		offset += t.Rows(i) * t.rowSize(i)
	}

	offset += int(rid-1) * t.rowSize(id)
	for _, c := range schemas[id][:col] {
		offset += t.colSize(c)
	}

	return offset, nil
}

// CellSize returns the encoded width of a column.
func (t *Tables) CellSize(id TableID, col int) int {
	return t.colSize(schemas[id][col])
}

// DecodeTables decodes a "#~" or "#-" stream. It returns the tables and the
// number of bytes the header and rows occupy.
func DecodeTables(b []byte) (*Tables, int, error) {
	if len(b) < 24 {
		return nil, 0, fmt.Errorf("%w: truncated header", ErrMalformedTables)
	}

	t := &Tables{
		Reserved:     binary.LittleEndian.Uint32(b),
		MajorVersion: b[4],
		MinorVersion: b[5],
		HeapSizes:    b[6],
		Reserved2:    b[7],
		Valid:        binary.LittleEndian.Uint64(b[8:]),
		Sorted:       binary.LittleEndian.Uint64(b[16:]),
	}

	if t.Valid>>tableCount != 0 {
		return nil, 0, fmt.Errorf("%w: unsupported tables present (valid mask 0x%X)", ErrMalformedTables, t.Valid)
	}

	if len(b) < t.headerSize() {
		return nil, 0, fmt.Errorf("%w: truncated row counts", ErrMalformedTables)
	}

	pos := 24

	var counts [tableCount]int

	for id := TableID(0); id < tableCount; id++ {
		if t.Valid&(1<<id) == 0 {
			continue
		}

		counts[id] = int(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
	}

	if t.HeapSizes&heapExtraData != 0 {
		t.ExtraData = binary.LittleEndian.Uint32(b[pos:])
		pos += 4
	}

	// Row counts come from the file, so the rows they claim must fit before
	// any storage is allocated for them.
	rowsOf := func(id TableID) int {
		if int(id) >= tableCount {
			return 0
		}

		return counts[id]
	}

	var need uint64
	for id := TableID(0); id < tableCount; id++ {
		rowSize := 0
		for _, c := range schemas[id] {
			rowSize += colSizeWith(c, t.HeapSizes, rowsOf)
		}

		need += uint64(counts[id]) * uint64(rowSize)
	}

	if need > uint64(len(b)-pos) {
		return nil, 0, fmt.Errorf("%w: rows need %d bytes, stream has %d", ErrMalformedTables, need, len(b)-pos)
	}

	for id := TableID(0); id < tableCount; id++ {
		if t.Valid&(1<<id) != 0 {
			t.tables[id] = &Table{ID: id, width: len(schemas[id]), cells: make([]uint32, counts[id]*len(schemas[id]))}
		}
	}

	for id := TableID(0); id < tableCount; id++ {
		tbl := t.tables[id]
		if tbl == nil {
			continue
		}

		sizes := make([]int, tbl.width)
		for i, c := range schemas[id] {
			sizes[i] = t.colSize(c)
		}

		rowSize := t.rowSize(id)
		if tbl.Rows() > (len(b)-pos)/max(rowSize, 1) {
			return nil, 0, fmt.Errorf("%w: table 0x%02X truncated", ErrMalformedTables, id)
		}

		for r := 0; r < tbl.Rows(); r++ {
			for c, size := range sizes {
				tbl.cells[r*tbl.width+c] = readCell(b[pos:], size)
				pos += size
			}
		}
	}

	return t, pos, nil
}

func readCell(b []byte, size int) uint32 {
	switch size {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func putCell(b []byte, size int, v uint32) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		binary.LittleEndian.PutUint32(b, v)
	}
}

// Validate checks every cell against the heap limits and the row counts of the
// tables it references.
func (t *Tables) Validate(limits HeapLimits) error {
	for id := TableID(0); id < tableCount; id++ {
		tbl := t.tables[id]
		if tbl == nil {
			continue
		}

		for r := 0; r < tbl.Rows(); r++ {
			for c, col := range schemas[id] {
				v := tbl.cells[r*tbl.width+c]
				if err := t.validateCell(col, v, limits); err != nil {
					return fmt.Errorf("table 0x%02X row %d column %d: %w", id, r+1, c, err)
				}
			}
		}
	}

	return nil
}

func (t *Tables) validateCell(col column, v uint32, limits HeapLimits) error {
	size := t.colSize(col)
	if size == 2 && v > 0xFFFF || size == 1 && v > 0xFF {
		return fmt.Errorf("%w: value 0x%X does not fit %d bytes", ErrDanglingReference, v, size)
	}

	switch col.kind {
	case colString:
		if v >= limits.Strings && v != 0 {
			return fmt.Errorf("%w: #Strings offset 0x%X beyond 0x%X", ErrDanglingReference, v, limits.Strings)
		}
	case colBlob:
		if v >= limits.Blob && v != 0 {
			return fmt.Errorf("%w: #Blob offset 0x%X beyond 0x%X", ErrDanglingReference, v, limits.Blob)
		}
	case colGUID:
		if v > limits.GUIDCount {
			return fmt.Errorf("%w: #GUID index %d beyond %d", ErrDanglingReference, v, limits.GUIDCount)
		}
	case colIndex:
		limit := uint32(t.Rows(t.listTarget(col)))
		if col.isList {
			limit++
		}

		if v > limit {
			return fmt.Errorf("%w: index %d into table 0x%02X (%d rows)", ErrDanglingReference, v, col.table, t.Rows(col.table))
		}
	case colCoded:
		tagBits := col.coded.tagBits()
		tag := v & (1<<tagBits - 1)
		targets := codedTables[col.coded]

		if int(tag) >= len(targets) {
			return fmt.Errorf("%w: coded index tag %d", ErrDanglingReference, tag)
		}

		if rid := v >> tagBits; rid != 0 && (targets[tag] == tableNone || int(rid) > t.Rows(targets[tag])) {
			return fmt.Errorf("%w: coded index row %d tag %d", ErrDanglingReference, rid, tag)
		}
	}

	return nil
}

// listTarget resolves list columns through the pointer tables of uncompressed streams.
func (t *Tables) listTarget(col column) TableID {
	if !col.isList {
		return col.table
	}

	ptr := map[TableID]TableID{
		TableField:     TableFieldPtr,
		TableMethodDef: TableMethodPtr,
		TableParam:     TableParamPtr,
		TableEvent:     TableEventPtr,
		TableProperty:  TablePropertyPtr,
	}[col.table]

	if t.Rows(ptr) > 0 {
		return ptr
	}

	return col.table
}

// Encode validates the tables and writes the header and rows.
func (t *Tables) Encode(limits HeapLimits) ([]byte, error) {
	if err := t.Validate(limits); err != nil {
		return nil, err
	}

	out := make([]byte, 24, t.headerSize())
	binary.LittleEndian.PutUint32(out, t.Reserved)
	out[4] = t.MajorVersion
	out[5] = t.MinorVersion
	out[6] = t.HeapSizes
	out[7] = t.Reserved2
	binary.LittleEndian.PutUint64(out[8:], t.Valid)
	binary.LittleEndian.PutUint64(out[16:], t.Sorted)

	for id := TableID(0); id < tableCount; id++ {
		if t.Valid&(1<<id) != 0 {
			out = binary.LittleEndian.AppendUint32(out, uint32(t.Rows(id)))
		}
	}

	if t.HeapSizes&heapExtraData != 0 {
		out = binary.LittleEndian.AppendUint32(out, t.ExtraData)
	}

	for id := TableID(0); id < tableCount; id++ {
		tbl := t.tables[id]
		if tbl == nil {
			continue
		}

		for r := 0; r < tbl.Rows(); r++ {
			for c, col := range schemas[id] {
				size := t.colSize(col)
				cell := make([]byte, size)
				putCell(cell, size, tbl.cells[r*tbl.width+c])
				out = append(out, cell...)
			}
		}
	}

	return out, nil
}
