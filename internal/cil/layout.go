package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoHeaderRoom is returned when the section table cannot grow inside SizeOfHeaders.
var ErrNoHeaderRoom = errors.New("no room for another section header")

// Section characteristics of an appended code section.
const (
	SectionCode        = 0x00000020
	SectionMemExecute  = 0x20000000
	SectionMemRead     = 0x40000000
	SectionCodeDefault = SectionCode | SectionMemExecute | SectionMemRead
)

// NextSectionRVA returns the RVA an appended section would receive.
func (img *Image) NextSectionRVA() uint32 {
	var end uint32

	for _, s := range img.Sections {
		end = max(end, s.VirtualAddress+max(s.VirtualSize, s.SizeOfRawData))
	}

	return alignU32(end, img.SectionAlignment)
}

func (img *Image) rawSectionsEnd() int {
	end := int(img.SizeOfHeaders)
	for _, s := range img.Sections {
		end = max(end, int(s.PointerToRawData+s.SizeOfRawData))
	}

	return min(end, len(img.Data))
}

// HeaderRoom reports whether one more section header fits before the first section's data.
func (img *Image) HeaderRoom() bool {
	limit := int(img.SizeOfHeaders)
	for _, s := range img.Sections {
		if s.PointerToRawData != 0 {
			limit = min(limit, int(s.PointerToRawData))
		}
	}

	return img.sectionOffset+(len(img.Sections)+1)*sectionHeaderSize <= limit
}

// AppendSection adds a section holding payload at NextSectionRVA. Data past the last
// section (an overlay) is moved behind the new section.
func (img *Image) AppendSection(name string, payload []byte, characteristics uint32) (Section, error) {
	if len(name) > 8 {
		return Section{}, fmt.Errorf("section name %q longer than 8 bytes", name)
	}

	if !img.HeaderRoom() {
		return Section{}, fmt.Errorf("%w: %d sections, SizeOfHeaders 0x%X", ErrNoHeaderRoom, len(img.Sections), img.SizeOfHeaders)
	}

	rawEnd := img.rawSectionsEnd()
	rawStart := align(rawEnd, int(img.FileAlignment))
	rawSize := align(len(payload), int(img.FileAlignment))

	section := Section{
		Name:             name,
		VirtualAddress:   img.NextSectionRVA(),
		VirtualSize:      uint32(len(payload)),
		PointerToRawData: uint32(rawStart),
		SizeOfRawData:    uint32(rawSize),
		Characteristics:  characteristics,
	}

	overlay := append([]byte(nil), img.Data[rawEnd:]...)
	data := make([]byte, rawStart+rawSize, rawStart+rawSize+len(overlay))
	copy(data, img.Data[:rawEnd])
	copy(data[rawStart:], payload)
	img.Data = append(data, overlay...)

	header := img.Data[img.sectionOffset+len(img.Sections)*sectionHeaderSize:]
	clear(header[:sectionHeaderSize])
	copy(header[:8], name)
	binary.LittleEndian.PutUint32(header[8:], section.VirtualSize)
	binary.LittleEndian.PutUint32(header[12:], section.VirtualAddress)
	binary.LittleEndian.PutUint32(header[16:], section.SizeOfRawData)
	binary.LittleEndian.PutUint32(header[20:], section.PointerToRawData)
	binary.LittleEndian.PutUint32(header[36:], section.Characteristics)

	img.Sections = append(img.Sections, section)
	binary.LittleEndian.PutUint16(img.Data[img.peOffset+coffNumberSections:], uint16(len(img.Sections)))

	sizeOfImage := alignU32(section.VirtualAddress+section.VirtualSize, img.SectionAlignment)
	binary.LittleEndian.PutUint32(img.Data[img.optOffset+optSizeOfImage:], sizeOfImage)

	if characteristics&SectionCode != 0 {
		sizeOfCode := binary.LittleEndian.Uint32(img.Data[img.optOffset+optSizeOfCode:])
		binary.LittleEndian.PutUint32(img.Data[img.optOffset+optSizeOfCode:], sizeOfCode+section.SizeOfRawData)
	}

	return section, nil
}

// DropCertificate clears the security directory and truncates the certificate table
// when it sits at the end of the file. It reports whether a certificate was present.
func (img *Image) DropCertificate() bool {
	dir := img.Data[img.dataDirOffset+dirSecurity*8:]
	offset := binary.LittleEndian.Uint32(dir)
	size := binary.LittleEndian.Uint32(dir[4:])

	if offset == 0 && size == 0 {
		return false
	}

	clear(dir[:8])

	if uint64(offset)+uint64(size) == uint64(len(img.Data)) && int(offset) >= img.rawSectionsEnd() {
		img.Data = img.Data[:offset]
	}

	return true
}

// ChecksumOffset returns the file offset of the optional header CheckSum field.
func (img *Image) ChecksumOffset() int {
	return img.optOffset + optChecksumOffset
}

// Checksum returns the stored PE checksum.
func (img *Image) Checksum() uint32 {
	return binary.LittleEndian.Uint32(img.Data[img.ChecksumOffset():])
}

// UpdateChecksum recomputes the PE checksum when the image carries one.
func (img *Image) UpdateChecksum() {
	if img.Checksum() == 0 {
		return
	}

	offset := img.ChecksumOffset()
	binary.LittleEndian.PutUint32(img.Data[offset:], Checksum(img.Data, offset))
}

// WriteCell stores v in both the decoded tables and the table stream bytes.
func (img *Image) WriteCell(id TableID, rid uint32, col int, v uint32) error {
	offset, err := img.Tables.CellOffset(id, rid, col)
	if err != nil {
		return err
	}

	size := img.Tables.CellSize(id, col)
	if size == 2 && v > 0xFFFF {
		return fmt.Errorf("%w: 0x%X does not fit a 2-byte cell", ErrEncoding, v)
	}

	if err := img.Tables.SetCell(id, rid, col, v); err != nil {
		return err
	}

	putCell(img.Data[img.TablesStream.Offset+offset:], size, v)

	return nil
}

// RewriteTables validates and re-encodes the whole table stream in place.
func (img *Image) RewriteTables() error {
	encoded, err := img.Tables.Encode(img.HeapLimits())
	if err != nil {
		return err
	}

	if len(encoded) != img.TablesSize {
		return fmt.Errorf("%w: re-encoded tables are %d bytes, stream holds %d", ErrEncoding, len(encoded), img.TablesSize)
	}

	copy(img.Data[img.TablesStream.Offset:], encoded)

	return nil
}

// Checksum computes the PE image checksum, skipping the 4-byte field at checksumOffset.
func Checksum(data []byte, checksumOffset int) uint32 {
	var sum uint64

	for i := 0; i+1 < len(data); i += 2 {
		if i == checksumOffset || i == checksumOffset+2 {
			continue
		}

		sum += uint64(binary.LittleEndian.Uint16(data[i:]))
		sum = sum&0xFFFF + sum>>16
	}

	if len(data)%2 == 1 {
		sum += uint64(data[len(data)-1])
		sum = sum&0xFFFF + sum>>16
	}

	sum = sum&0xFFFF + sum>>16

	return uint32(sum) + uint32(len(data))
}

func alignU32(n, to uint32) uint32 {
	return (n + to - 1) &^ (to - 1)
}
