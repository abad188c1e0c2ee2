package core

import (
	"encoding/binary"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var (
	// ErrUnmapped is returned when reading an address no mapping covers.
	ErrUnmapped = errors.New("address not mapped")
	// ErrShortPointer is returned for pointer sizes other than 4 and 8.
	ErrShortPointer = errors.New("unsupported pointer size")
)

// memory is the storage behind a Process.
type memory interface {
	readAt(p []byte, a Address) error
}

// FileMapping describes a file mapped into the inferior, as listed by the
// core file NT_FILE note or /proc/<pid>/maps.
type FileMapping struct {
	Start  Address
	End    Address
	Offset uint64 // offset in Path of the byte at Start
	Path   string
}

// Process is the memory of a live or recorded inferior.
// It is read-only, except for images built with NewImage, and safe to share
// between value trees evaluated by the same caller.
type Process struct {
	mem       memory
	byteOrder binary.ByteOrder
	ptrSize   int64
	arch      string
	files     []FileMapping
	closers   []io.Closer
	exited    func() bool

	spliced splicedMemory
}

// ReadAt fills p with the contents of memory starting at a.
func (p *Process) ReadAt(b []byte, a Address) error {
	if err := p.mem.readAt(b, a); err != nil {
		return errors.Wrapf(err, "read %d bytes at %s", len(b), a)
	}
	return nil
}

// ReadPointer reads a pointer-sized value at a.
func (p *Process) ReadPointer(a Address) (uint64, error) {
	var buf [8]byte
	b := buf[:p.ptrSize]
	if err := p.ReadAt(b, a); err != nil {
		return 0, err
	}
	switch p.ptrSize {
	case 4:
		return uint64(p.byteOrder.Uint32(b)), nil
	case 8:
		return p.byteOrder.Uint64(b), nil
	}
	return 0, ErrShortPointer
}

// ReadUint64 reads an 8 byte value at a.
func (p *Process) ReadUint64(a Address) (uint64, error) {
	var buf [8]byte
	if err := p.ReadAt(buf[:], a); err != nil {
		return 0, err
	}
	return p.byteOrder.Uint64(buf[:]), nil
}

// AddressByteSize returns the size of a pointer in the inferior.
func (p *Process) AddressByteSize() uint32 {
	return uint32(p.ptrSize)
}

// PtrSize returns the size in bytes of a pointer in the inferior.
func (p *Process) PtrSize() int64 {
	return p.ptrSize
}

// ByteOrder returns the byte order of the inferior.
func (p *Process) ByteOrder() binary.ByteOrder {
	return p.byteOrder
}

// Arch returns the machine architecture of the inferior, e.g. "amd64".
func (p *Process) Arch() string {
	return p.arch
}

// Mappings returns the memory mappings of a recorded inferior.
// Live processes have no static mapping list and return nil.
func (p *Process) Mappings() []*Mapping {
	return p.spliced.mappings
}

// Files returns the files mapped into the inferior.
func (p *Process) Files() []FileMapping {
	return p.files
}

// Exited reports whether a live inferior has gone away. Recorded inferiors never exit.
func (p *Process) Exited() bool {
	return p.exited != nil && p.exited()
}

// Close releases files held by the process.
func (p *Process) Close() error {
	var errs error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	p.closers = nil
	return errs
}

// readAt implements memory on top of the spliced mappings.
func (p *Process) readAt(b []byte, a Address) error {
	for len(b) > 0 {
		m := p.spliced.find(a)
		if m == nil || a < m.min || a >= m.max {
			return errors.Wrapf(ErrUnmapped, "%s", a)
		}
		n := int64(len(b))
		if rest := m.max.Sub(a); n > rest {
			n = rest
		}
		if err := m.readAt(b[:n], a); err != nil {
			return err
		}
		b = b[n:]
		a = a.Add(n)
	}
	return nil
}

// seal makes the spliced mappings readable. It must run once all mappings are added.
func (p *Process) seal() error {
	if err := p.spliced.check(); err != nil {
		return err
	}
	p.mem = p
	return nil
}
