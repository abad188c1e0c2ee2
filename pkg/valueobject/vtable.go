package valueobject

import (
	"strings"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
)

const vtablePrefix = "vtable for "

// VTable is the virtual function table of an object. It finds the table by
// reading the first pointer of the object and requiring the symbol covering
// the pointed-to address to be named "vtable for ...".
//
// An object whose first member is itself polymorphic is indistinguishable from
// an object with its own vtable; the table found is the member's.
type VTable struct {
	base
	object Object

	symbol  *symtab.Symbol
	addr    core.Address // value read from the object, where entries start
	ptrSize uint32
	entries uint64
}

// NewVTable returns the vtable node of obj. Nothing is read until the node is
// first computed.
func NewVTable(obj Object) *VTable {
	return &VTable{
		base:   base{name: "vtable"},
		object: obj,
		addr:   core.InvalidAddress,
	}
}

func (t *VTable) Kind() Kind {
	return KindVTable
}

// Object returns the object the vtable belongs to.
func (t *VTable) Object() Object {
	return t.object
}

func (t *VTable) stopID() uint64 {
	if t.object == nil {
		return 0
	}
	return t.object.StopID()
}

func (t *VTable) Recompute() error {
	return t.recompute(t.stopID(), t.update)
}

func (t *VTable) UpdateIfNeeded(force bool) bool {
	if t.needsUpdate(force, t.stopID()) {
		_ = t.Recompute()
	}
	return t.state == StateValid
}

func (t *VTable) reset() {
	t.name = "vtable"
	t.symbol = nil
	t.addr = core.InvalidAddress
	t.entries = 0
}

func (t *VTable) update() error {
	t.reset()

	obj := t.object
	if obj == nil {
		return ErrNoParent
	}
	if !obj.IsInScope() {
		return ErrScopeLost
	}
	if !obj.UpdateIfNeeded(true) {
		if n, ok := obj.(interface{ Err() error }); ok && n.Err() != nil {
			return wrapError(ParentUpdateFailed, n.Err())
		}
		return ErrParentUpdateFailed
	}
	target := obj.Target()
	if target == nil {
		return ErrNoTarget
	}
	objAddr := loadAddressOf(obj, target)
	if !objAddr.Valid() {
		return ErrNoLoadAddress
	}
	process := obj.Process()
	if process == nil {
		return ErrNoProcess
	}

	// The vtable pointer is expected in the first word of the object.
	ptr, err := process.ReadPointer(objAddr)
	if err != nil {
		return newAddrError(MemoryReadFailed, objAddr, err, "failed to read vtable pointer at %s", objAddr)
	}
	vtableAddr := core.Address(ptr)
	resolved := target.ResolveLoadAddress(vtableAddr)
	if !resolved.IsValid() {
		return newAddrError(UnresolvedAddress, vtableAddr, nil, "unable to resolve address %s", vtableAddr)
	}
	sym := resolved.Symbol
	if sym == nil {
		return newAddrError(NotAVTable, vtableAddr, nil, "not a vtable: no symbol covers %s", vtableAddr)
	}
	if !strings.HasPrefix(sym.Name, vtablePrefix) {
		return newAddrError(NotAVTable, vtableAddr, nil, "does not have a vtable: %s is %s", vtableAddr, sym.Name)
	}
	size, ok := sym.ByteSize()
	if !ok {
		return newAddrError(NotAVTable, vtableAddr, nil, "vtable symbol %s has no size", sym.Name)
	}
	ptrSize := process.AddressByteSize()
	if ptrSize == 0 {
		return wrapError(NoProcess, errZeroPointerSize)
	}

	// The object points past the header of the vtable symbol, so entries run
	// from the pointer read to the end of the symbol.
	end := resolved.SymbolLoadAddress() + core.Address(size)
	t.symbol = sym
	t.addr = vtableAddr
	t.ptrSize = ptrSize
	if vtableAddr < end {
		t.entries = uint64(end-vtableAddr) / uint64(ptrSize)
	}
	t.name = sym.Name
	t.changed = true
	return nil
}

// Address returns the load address of the first entry, or core.InvalidAddress
// if the vtable was not found.
func (t *VTable) Address() core.Address {
	return t.addr
}

// Symbol returns the vtable symbol, or nil if the vtable was not found.
func (t *VTable) Symbol() *symtab.Symbol {
	return t.symbol
}

// AddressByteSize returns the pointer size used for the entries.
func (t *VTable) AddressByteSize() uint32 {
	return t.ptrSize
}

// EntryCount returns the number of function pointers in the table.
func (t *VTable) EntryCount() uint64 {
	return t.entries
}

func (t *VTable) IsInScope() bool {
	return t.object != nil && t.object.IsInScope()
}

func (t *VTable) NumChildren(max uint32) uint32 {
	if t.entries < uint64(max) {
		return uint32(t.entries)
	}
	return max
}

// ChildAt returns entry idx. It reads no memory.
func (t *VTable) ChildAt(idx uint32) (Node, error) {
	return t.Entry(idx)
}

func (t *VTable) Entry(idx uint32) (*VTableEntry, error) {
	if uint64(idx) >= t.entries {
		return nil, ErrIndexOutOfRange
	}
	return newVTableEntry(t, idx, t.ptrSize), nil
}

func (t *VTable) ByteSize() (uint64, bool) {
	if t.symbol == nil {
		return 0, false
	}
	return t.symbol.ByteSize()
}

func (t *VTable) TypeName() string {
	if t.symbol == nil {
		return ""
	}
	return t.symbol.Name
}

func (t *VTable) DisplayTypeName() string {
	if t.symbol == nil {
		return ""
	}
	return t.symbol.DisplayName
}

func (t *VTable) Value() (string, bool) {
	if !t.UpdateIfNeeded(true) {
		return "", false
	}
	return displayValue(KindVTable, uint64(t.addr), t.ptrSize), true
}

func (t *VTable) Summary() string {
	return ""
}
