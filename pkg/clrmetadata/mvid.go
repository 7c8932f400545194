// Package clrmetadata reads the identity of managed (ECMA-335) modules out of
// their PE image, without loading them.
package clrmetadata

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

const (
	comDescriptorDirectory = 14
	metadataSignature      = 0x424A5342

	// #~ heap size flags
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02

	moduleTable = 0
)

// ErrNotManaged is returned for PE images without a CLI header.
var ErrNotManaged = errors.New("image has no CLI header")

// ReadMVID returns the module version id of the managed module at path.
// The MVID is regenerated by the compiler for every distinct build output,
// so two files with the same MVID have identical module content.
func ReadMVID(path string) (uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()
	mvid, err := readMVID(f)
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not read module version id of %s: %w", path, err)
	}
	return mvid, nil
}

func readMVID(r io.ReaderAt) (uuid.UUID, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return uuid.Nil, err
	}
	return mvidFromImage(f)
}

func mvidFromImage(f *pe.File) (uuid.UUID, error) {
	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= comDescriptorDirectory {
			return uuid.Nil, ErrNotManaged
		}
		dir = oh.DataDirectory[comDescriptorDirectory]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= comDescriptorDirectory {
			return uuid.Nil, ErrNotManaged
		}
		dir = oh.DataDirectory[comDescriptorDirectory]
	default:
		return uuid.Nil, ErrNotManaged
	}
	if dir.VirtualAddress == 0 || dir.Size < 16 {
		return uuid.Nil, ErrNotManaged
	}

	cor20, err := readRVA(f, dir.VirtualAddress, 16)
	if err != nil {
		return uuid.Nil, fmt.Errorf("CLI header: %w", err)
	}
	metadataRVA := binary.LittleEndian.Uint32(cor20[8:12])
	metadataSize := binary.LittleEndian.Uint32(cor20[12:16])
	metadata, err := readRVA(f, metadataRVA, metadataSize)
	if err != nil {
		return uuid.Nil, fmt.Errorf("metadata root: %w", err)
	}

	streams, err := parseStreams(metadata)
	if err != nil {
		return uuid.Nil, err
	}
	tables, ok := streams["#~"]
	if !ok {
		return uuid.Nil, errors.New("metadata has no #~ stream")
	}
	guids, ok := streams["#GUID"]
	if !ok {
		return uuid.Nil, errors.New("metadata has no #GUID stream")
	}

	index, err := moduleMVIDIndex(tables)
	if err != nil {
		return uuid.Nil, err
	}
	if index == 0 || int(index)*16 > len(guids) {
		return uuid.Nil, fmt.Errorf("module version id index %d is out of range", index)
	}
	return guidToUUID(guids[(index-1)*16 : index*16])
}

// readRVA reads size bytes at the relative virtual address rva.
func readRVA(f *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+max(s.VirtualSize, s.Size) {
			continue
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(rva-s.VirtualAddress)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("no section contains RVA 0x%x", rva)
}

// parseStreams returns the metadata streams keyed by name.
func parseStreams(metadata []byte) (map[string][]byte, error) {
	if len(metadata) < 16 || binary.LittleEndian.Uint32(metadata) != metadataSignature {
		return nil, errors.New("bad metadata signature")
	}
	versionLength := int(binary.LittleEndian.Uint32(metadata[12:16]))
	offset := 16 + versionLength
	if offset+4 > len(metadata) {
		return nil, errors.New("truncated metadata root")
	}
	count := int(binary.LittleEndian.Uint16(metadata[offset+2:]))
	offset += 4

	streams := map[string][]byte{}
	for i := 0; i < count; i++ {
		if offset+8 > len(metadata) {
			return nil, errors.New("truncated stream header")
		}
		start := int(binary.LittleEndian.Uint32(metadata[offset:]))
		size := int(binary.LittleEndian.Uint32(metadata[offset+4:]))
		offset += 8
		end := bytes.IndexByte(metadata[offset:], 0)
		if end < 0 {
			return nil, errors.New("unterminated stream name")
		}
		name := string(metadata[offset : offset+end])
		// names are padded to a four byte boundary, terminator included
		offset += (end + 4) &^ 3
		if start+size > len(metadata) {
			return nil, fmt.Errorf("stream %s is out of range", name)
		}
		streams[name] = metadata[start : start+size]
	}
	return streams, nil
}

// moduleMVIDIndex returns the one-based #GUID index of the Mvid column of
// the single Module table row. Module is table zero, so its row follows the
// row counts directly.
func moduleMVIDIndex(tables []byte) (uint32, error) {
	if len(tables) < 24 {
		return 0, errors.New("truncated #~ stream")
	}
	heapSizes := tables[6]
	valid := binary.LittleEndian.Uint64(tables[8:16])
	if valid&(1<<moduleTable) == 0 {
		return 0, errors.New("metadata has no Module table")
	}
	present := 0
	for v := valid; v != 0; v &= v - 1 {
		present++
	}
	row := 24 + 4*present

	stringIndex, guidIndex := 2, 2
	if heapSizes&heapStringsWide != 0 {
		stringIndex = 4
	}
	if heapSizes&heapGUIDWide != 0 {
		guidIndex = 4
	}
	// Generation (u16), Name (string index), Mvid (guid index)
	at := row + 2 + stringIndex
	if at+guidIndex > len(tables) {
		return 0, errors.New("truncated Module table")
	}
	if guidIndex == 4 {
		return binary.LittleEndian.Uint32(tables[at:]), nil
	}
	return uint32(binary.LittleEndian.Uint16(tables[at:])), nil
}

// guidToUUID converts the mixed-endian on-disk GUID layout into RFC 4122
// byte order so the textual form matches what the runtime reports.
func guidToUUID(b []byte) (uuid.UUID, error) {
	rfc := make([]byte, 16)
	rfc[0], rfc[1], rfc[2], rfc[3] = b[3], b[2], b[1], b[0]
	rfc[4], rfc[5] = b[5], b[4]
	rfc[6], rfc[7] = b[7], b[6]
	copy(rfc[8:], b[8:16])
	return uuid.FromBytes(rfc)
}
