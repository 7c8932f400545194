// Package clrmetadatatest builds minimal managed PE images for tests.
package clrmetadatatest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"

	"github.com/google/uuid"
)

const (
	sectionRVA    = 0x2000
	sectionOffset = 0x200
	metadataAt    = 0x50
	fileAlignment = 0x200
)

// ManagedImage returns a PE32 image whose Module table row carries mvid.
func ManagedImage(mvid uuid.UUID) []byte {
	metadata := metadataBlob(mvid)
	section := make([]byte, metadataAt+len(metadata))
	cor20 := section[:72]
	binary.LittleEndian.PutUint32(cor20[0:], 72)
	binary.LittleEndian.PutUint16(cor20[4:], 2)
	binary.LittleEndian.PutUint16(cor20[6:], 5)
	binary.LittleEndian.PutUint32(cor20[8:], sectionRVA+metadataAt)
	binary.LittleEndian.PutUint32(cor20[12:], uint32(len(metadata)))
	copy(section[metadataAt:], metadata)
	return image(section, pe.DataDirectory{VirtualAddress: sectionRVA, Size: 72})
}

// NativeImage returns a PE32 image without a CLI header.
func NativeImage() []byte {
	return image(make([]byte, 16), pe.DataDirectory{})
}

// WriteManagedImage writes ManagedImage(mvid) to path.
func WriteManagedImage(path string, mvid uuid.UUID) error {
	return os.WriteFile(path, ManagedImage(mvid), 0644)
}

// GUIDBytes returns the on-disk (mixed-endian) layout of u.
func GUIDBytes(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

func metadataBlob(mvid uuid.UUID) []byte {
	version := []byte("v4.0.30319\x00\x00")

	tables := make([]byte, 40)
	tables[4] = 2                                 // major
	binary.LittleEndian.PutUint64(tables[8:], 1)  // valid: Module only
	binary.LittleEndian.PutUint32(tables[24:], 1) // one Module row
	// Module row: Generation, Name, Mvid, EncId, EncBaseId
	binary.LittleEndian.PutUint16(tables[30:], 1)
	binary.LittleEndian.PutUint16(tables[32:], 1)
	guids := GUIDBytes(mvid)

	buf := &bytes.Buffer{}
	write := func(v interface{}) { _ = binary.Write(buf, binary.LittleEndian, v) }
	write(uint32(0x424A5342))
	write(uint16(1))
	write(uint16(1))
	write(uint32(0))
	write(uint32(len(version)))
	buf.Write(version)
	write(uint16(0))
	write(uint16(2))

	headersSize := 12 + 16
	tablesOffset := buf.Len() + headersSize
	guidOffset := tablesOffset + len(tables)
	write(uint32(tablesOffset))
	write(uint32(len(tables)))
	buf.WriteString("#~\x00\x00")
	write(uint32(guidOffset))
	write(uint32(len(guids)))
	buf.WriteString("#GUID\x00\x00\x00")
	buf.Write(tables)
	buf.Write(guids)
	return buf.Bytes()
}

func image(section []byte, cli pe.DataDirectory) []byte {
	rawSize := (len(section) + fileAlignment - 1) &^ (fileAlignment - 1)

	buf := &bytes.Buffer{}
	write := func(v interface{}) { _ = binary.Write(buf, binary.LittleEndian, v) }

	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	oh := pe.OptionalHeader32{
		Magic:               0x10b,
		AddressOfEntryPoint: sectionRVA,
		BaseOfCode:          sectionRVA,
		ImageBase:           0x400000,
		SectionAlignment:    0x2000,
		FileAlignment:       fileAlignment,
		SizeOfImage:         sectionRVA * 2,
		SizeOfHeaders:       sectionOffset,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[14] = cli
	write(pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x2102,
	})
	write(oh)

	sh := pe.SectionHeader32{
		VirtualSize:      uint32(len(section)),
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    uint32(rawSize),
		PointerToRawData: sectionOffset,
		Characteristics:  0x60000020,
	}
	copy(sh.Name[:], ".text")
	write(sh)

	out := make([]byte, sectionOffset+rawSize)
	copy(out, buf.Bytes())
	copy(out[sectionOffset:], section)
	return out
}
