package symtab

import (
	"path/filepath"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/dwarfinfo"
)

// FunctionIndex finds the function covering a file address. *dwarfinfo.Index implements it.
type FunctionIndex interface {
	FunctionAt(pc uint64) (*dwarfinfo.Function, error)
}

// Module is an ELF object loaded into the inferior.
type Module struct {
	Path      string // path as mapped in the inferior
	DebugFile string // separate debug file symbols came from, if any
	BuildID   BuildID
	Layout    *BinaryLayout
	Bias      uint64 // load address minus file address
	Symbols   *SymbolTable
	Functions FunctionIndex // nil without debug info
}

// Name returns the base name of the module path, e.g. "a.out".
func (m *Module) Name() string {
	return filepath.Base(m.Path)
}

// FileToLoad translates a file address of m to a load address, or returns
// core.InvalidAddress if no segment holds it.
func (m *Module) FileToLoad(a core.Address) core.Address {
	if !a.Valid() || m.Layout.SegmentForFileAddress(uint64(a)) == nil {
		return core.InvalidAddress
	}
	return a + core.Address(m.Bias)
}

// LoadToFile translates a load address into m, or returns core.InvalidAddress
// if m does not cover it.
func (m *Module) LoadToFile(a core.Address) core.Address {
	if !a.Valid() {
		return core.InvalidAddress
	}
	f := a - core.Address(m.Bias)
	if m.Layout.SegmentForFileAddress(uint64(f)) == nil {
		return core.InvalidAddress
	}
	return f
}

// ContainsLoad reports whether load address a falls inside one of m's segments.
func (m *Module) ContainsLoad(a core.Address) bool {
	return m.LoadToFile(a).Valid()
}

// LoadRange returns the lowest load address of m and the address just past its highest.
func (m *Module) LoadRange() (core.Address, core.Address) {
	if len(m.Layout.Segments) == 0 {
		return core.InvalidAddress, core.InvalidAddress
	}
	lo, hi := core.InvalidAddress, core.Address(0)
	for _, s := range m.Layout.Segments {
		lo = lo.Min(core.Address(s.Vaddr))
		hi = hi.Max(core.Address(s.Vaddr + s.Memsz))
	}
	return lo + core.Address(m.Bias), hi + core.Address(m.Bias)
}
