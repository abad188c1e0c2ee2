package core

import (
	"encoding/binary"
	"fmt"
)

// imageData is memory owned by an in-memory inferior. Writes through
// WritePointer are visible to later reads.
type imageData []byte

func (d imageData) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, d[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at %d", off)
	}
	return n, nil
}

// NewImage returns an empty in-memory inferior with the given pointer size and
// byte order. Memory is added with Map.
//
// Images are fixtures for tests of code built on Process: they hold
// hand-written objects and vtables, and are the only inferiors that can be
// written to.
func NewImage(ptrSize int64, order binary.ByteOrder) *Process {
	p := &Process{byteOrder: order, ptrSize: ptrSize, arch: "image"}
	p.mem = p
	return p
}

// Map places data at address a. a must be page aligned. The slice is not
// copied: later changes to data are visible through the Process.
func (p *Process) Map(a Address, data []byte, perm Perm) error {
	if a%pageSize != 0 {
		return fmt.Errorf("image mapping at %s is not page aligned", a)
	}
	p.spliced.Add(a, a.Add(int64(len(data))), perm, imageData(data), 0, "image")
	return p.seal()
}

// WritePointer stores a pointer-sized value at a, as a running inferior would
// when it reassigns a pointer. Only memory added to an image with Map can be
// written; core files, executables and live processes return an error.
func (p *Process) WritePointer(a Address, v uint64) error {
	m := p.spliced.find(a)
	if m == nil || a < m.min || a.Add(p.ptrSize) > m.max {
		return fmt.Errorf("%w: %s", ErrUnmapped, a)
	}
	d, ok := m.src.(imageData)
	if !ok {
		return fmt.Errorf("mapping %s is read-only", m)
	}
	off := m.off + a.Sub(m.min)
	if off < 0 || off+p.ptrSize > int64(len(d)) {
		return fmt.Errorf("%w: %s", ErrUnmapped, a)
	}
	switch p.ptrSize {
	case 4:
		p.byteOrder.PutUint32(d[off:], uint32(v))
	case 8:
		p.byteOrder.PutUint64(d[off:], v)
	default:
		return ErrShortPointer
	}
	return nil
}
