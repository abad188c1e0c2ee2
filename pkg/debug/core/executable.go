package core

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Executable opens an ELF executable or shared object as an inferior that
// has not started: its memory is the initial contents of the loadable
// segments, mapped where they were linked. Relocations are not applied, so
// pointers in position independent objects read as the linker left them.
func Executable(path string) (*Process, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := newExecutableProcess(f, path)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "open executable %s", path)
	}
	p.closers = append(p.closers, f)
	return p, nil
}

func newExecutableProcess(f *os.File, path string) (*Process, error) {
	e, err := elf.NewFile(f)
	if err != nil {
		return nil, err
	}
	if e.Type != elf.ET_EXEC && e.Type != elf.ET_DYN {
		return nil, fmt.Errorf("not an executable: %s", e.Type)
	}
	p := &Process{
		byteOrder: e.ByteOrder,
		ptrSize:   ptrSizeOf(e.Class),
		arch:      archOf(e.Class, e.Machine),
	}
	for _, prog := range e.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if err := p.loadSegment(f, path, prog); err != nil {
			return nil, err
		}
	}
	if len(p.files) == 0 {
		return nil, fmt.Errorf("no loadable segments")
	}
	return p, p.seal()
}

// loadSegment maps prog the way the kernel would: whole file pages, then the
// page holding the end of the file contents with its tail cleared, then zero
// pages up to the memory size.
func (p *Process) loadSegment(f *os.File, path string, prog *elf.Prog) error {
	perm := permOf(prog.Flags)
	start := Address(prog.Vaddr)
	fileEnd := start.Add(int64(prog.Filesz))
	memEnd := start.Add(int64(prog.Memsz))

	page := int64(pageSize)
	full := fileEnd &^ (pageSize - 1) // end of the pages filled from the file
	if full > start {
		p.spliced.Add(start, full, perm, f, int64(prog.Off), path)
	}
	if fileEnd > full {
		tail := full.Max(start)
		first := tail &^ (pageSize - 1)
		data := make([]byte, fileEnd.Align(page).Sub(first))
		if _, err := f.ReadAt(data[tail.Sub(first):fileEnd.Sub(first)], int64(prog.Off)+tail.Sub(start)); err != nil {
			return errors.Wrapf(err, "read segment at %s", start)
		}
		p.spliced.Add(first, fileEnd, perm, bytes.NewReader(data), 0, path)
	}
	if bss := fileEnd.Align(page); memEnd > bss {
		p.spliced.Add(bss, memEnd, perm, nil, 0, "bss")
	}

	p.files = append(p.files, FileMapping{
		Start:  start &^ (pageSize - 1),
		End:    memEnd.Align(page),
		Offset: prog.Off &^ uint64(pageSize-1),
		Path:   path,
	})
	return nil
}
