package symtab

import (
	"debug/elf"
	"fmt"

	"github.com/grafana/vtinspect/pkg/debug/core"
)

var errBaseNotFound = fmt.Errorf("elf base not found")

// BinaryLayout holds what is needed to translate between file addresses and
// load addresses of one ELF object:
// 1. Executables (ET_EXEC) are loaded at the addresses they were linked for
// 2. Shared objects and PIE (ET_DYN) are shifted by a bias chosen by the loader
type BinaryLayout struct {
	ElfType  elf.Type
	Segments []MemoryRegion
}

// MemoryRegion is a PT_LOAD segment.
type MemoryRegion struct {
	Off    uint64 // File offset
	Vaddr  uint64 // Virtual address
	Filesz uint64 // Size in file
	Memsz  uint64 // Size in memory (may be larger than Filesz due to .bss)
	Flags  elf.ProgFlag
}

func LayoutFromELF(f *elf.File) *BinaryLayout {
	segments := make([]MemoryRegion, 0, len(f.Progs))
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segments = append(segments, MemoryRegion{
			Off:    p.Off,
			Vaddr:  p.Vaddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Flags:  p.Flags,
		})
	}
	return &BinaryLayout{
		ElfType:  f.Type,
		Segments: segments,
	}
}

// SegmentForFileAddress returns the segment whose memory image holds addr.
func (l *BinaryLayout) SegmentForFileAddress(addr uint64) *MemoryRegion {
	for i := range l.Segments {
		s := &l.Segments[i]
		if s.Vaddr <= addr && addr < s.Vaddr+s.Memsz {
			return s
		}
	}
	return nil
}

// segmentForOffset returns the segment a mapping starting at file offset off
// was created from. Mappings start on page boundaries while segments need not.
func (l *BinaryLayout) segmentForOffset(off uint64) *MemoryRegion {
	for i := range l.Segments {
		s := &l.Segments[i]
		start := s.Off &^ (uint64(pageSize) - 1)
		end := s.Off + s.Filesz
		if s.Filesz == 0 {
			end = s.Off + 1
		}
		if start <= off && off < end {
			return s
		}
	}
	return nil
}

const pageSize = 0x1000

// CalculateBias returns the difference between load and file addresses given
// the regions of the file mapped into the inferior.
func (l *BinaryLayout) CalculateBias(mappings []core.FileMapping) (uint64, error) {
	switch l.ElfType {
	case elf.ET_EXEC:
		return 0, nil
	case elf.ET_DYN:
	default:
		return 0, fmt.Errorf("unsupported ELF type: %v", l.ElfType)
	}
	if len(mappings) == 0 {
		return 0, errBaseNotFound
	}
	// Prefer the executable segment, as the kernel maps it with its exact offset.
	for _, exec := range []bool{true, false} {
		for _, m := range mappings {
			s := l.segmentForOffset(m.Offset)
			if s == nil || (s.Flags&elf.PF_X != 0) != exec {
				continue
			}
			return calculateDynamicBase(m, s), nil
		}
	}
	m := mappings[0]
	if m.Offset != 0 {
		return 0, errBaseNotFound
	}
	return calculateDynamicBase(m, nil), nil
}

func calculateDynamicBase(m core.FileMapping, h *MemoryRegion) uint64 {
	start := uint64(m.Start)
	if h == nil {
		return start - m.Offset
	}
	// Vaddr and Off of a segment are congruent modulo the page size.
	return start - m.Offset - (h.Vaddr - h.Off)
}
