package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const ntFile = 0x46494c45 // "FILE"

// Core opens an ELF core file. Regions of mapped files that the kernel did not
// dump are read from the original files, looked up under sysroot ("" means /).
func Core(corePath, sysroot string) (*Process, error) {
	f, err := os.Open(corePath)
	if err != nil {
		return nil, err
	}
	p, err := newCoreProcess(f, sysroot)
	if err != nil {
		_ = f.Close()
		_ = p.Close()
		return nil, errors.Wrapf(err, "open core %s", corePath)
	}
	p.closers = append(p.closers, f)
	return p, nil
}

func newCoreProcess(r io.ReaderAt, sysroot string) (*Process, error) {
	p := &Process{}
	e, err := elf.NewFile(r)
	if err != nil {
		return p, err
	}
	if e.Type != elf.ET_CORE {
		return p, fmt.Errorf("not a core file: %s", e.Type)
	}
	p.byteOrder = e.ByteOrder
	p.ptrSize = ptrSizeOf(e.Class)
	p.arch = archOf(e.Class, e.Machine)

	for _, prog := range e.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		files, err := readFileNote(prog, e.ByteOrder, p.ptrSize)
		if err != nil {
			return p, err
		}
		p.files = append(p.files, files...)
	}

	// Mapped files go in first so that whatever the core file holds wins.
	for _, fm := range p.files {
		path := filepath.Join(sysroot, fm.Path)
		mf, err := os.Open(path)
		if err != nil {
			continue
		}
		p.closers = append(p.closers, mf)
		p.spliced.Add(fm.Start, fm.End, Read, mf, int64(fm.Offset), path)
	}
	for _, prog := range e.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		min := Address(prog.Vaddr)
		p.spliced.Add(min, min.Add(int64(prog.Filesz)), permOf(prog.Flags), r, int64(prog.Off), "core")
	}
	return p, p.seal()
}

// readFileNote extracts the NT_FILE note, which lists the files mapped into the
// process when it dumped core.
func readFileNote(prog *elf.Prog, order binary.ByteOrder, ptrSize int64) ([]FileMapping, error) {
	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read note segment")
	}
	var res []FileMapping
	for len(data) >= 12 {
		namesz := int(order.Uint32(data[0:]))
		descsz := int(order.Uint32(data[4:]))
		typ := order.Uint32(data[8:])
		data = data[12:]
		if align4(namesz) > len(data) {
			break
		}
		name := bytes.TrimRight(data[:namesz], "\x00")
		data = data[align4(namesz):]
		if descsz > len(data) {
			break
		}
		desc := data[:descsz]
		data = data[min(align4(descsz), len(data)):]
		if typ != ntFile || string(name) != "CORE" {
			continue
		}
		files, err := parseFileNote(desc, order, ptrSize)
		if err != nil {
			return nil, err
		}
		res = append(res, files...)
	}
	return res, nil
}

func parseFileNote(desc []byte, order binary.ByteOrder, ptrSize int64) ([]FileMapping, error) {
	word := func() (uint64, bool) {
		if int64(len(desc)) < ptrSize {
			return 0, false
		}
		var v uint64
		if ptrSize == 4 {
			v = uint64(order.Uint32(desc))
		} else {
			v = order.Uint64(desc)
		}
		desc = desc[ptrSize:]
		return v, true
	}
	count, ok1 := word()
	pageSize, ok2 := word()
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("truncated NT_FILE note")
	}
	// Each entry takes three words before the names.
	if count > uint64(len(desc))/(3*uint64(ptrSize)) {
		return nil, fmt.Errorf("NT_FILE note lists %d files in %d bytes", count, len(desc))
	}
	res := make([]FileMapping, 0, count)
	for i := uint64(0); i < count; i++ {
		start, ok1 := word()
		end, ok2 := word()
		off, ok3 := word()
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("truncated NT_FILE entry %d", i)
		}
		res = append(res, FileMapping{Start: Address(start), End: Address(end), Offset: off * pageSize})
	}
	for i := range res {
		j := bytes.IndexByte(desc, 0)
		if j < 0 {
			return nil, fmt.Errorf("truncated NT_FILE name %d", i)
		}
		res[i].Path = string(desc[:j])
		desc = desc[j+1:]
	}
	return res, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func ptrSizeOf(c elf.Class) int64 {
	if c == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

func permOf(f elf.ProgFlag) Perm {
	var p Perm
	if f&elf.PF_R != 0 {
		p |= Read
	}
	if f&elf.PF_W != 0 {
		p |= Write
	}
	if f&elf.PF_X != 0 {
		p |= Exec
	}
	return p
}

func archOf(c elf.Class, m elf.Machine) string {
	switch m {
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_386:
		return "386"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_RISCV:
		if c == elf.ELFCLASS32 {
			return "riscv"
		}
		return "riscv64"
	case elf.EM_PPC64:
		return "ppc64"
	}
	return m.String()
}
