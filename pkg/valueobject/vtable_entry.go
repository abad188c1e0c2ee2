package valueobject

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
)

var errZeroPointerSize = fmt.Errorf("process reports a zero address size")

// VTableEntry is one function pointer of a VTable.
type VTableEntry struct {
	base
	owner   *VTable
	index   uint32
	ptrSize uint32

	slot     core.Address
	value    uint64
	function symtab.Address
}

func newVTableEntry(owner *VTable, idx uint32, ptrSize uint32) *VTableEntry {
	return &VTableEntry{
		base:    base{name: fmt.Sprintf("[%d]", idx)},
		owner:   owner,
		index:   idx,
		ptrSize: ptrSize,
		slot:    core.InvalidAddress,
	}
}

func (e *VTableEntry) Kind() Kind {
	return KindVTableEntry
}

func (e *VTableEntry) Index() uint32 {
	return e.index
}

func (e *VTableEntry) object() Object {
	if e.owner == nil {
		return nil
	}
	return e.owner.object
}

func (e *VTableEntry) stopID() uint64 {
	if obj := e.object(); obj != nil {
		return obj.StopID()
	}
	return 0
}

// Recompute reads the entry from the owner's current vtable address. The
// owner is not recomputed: callers refresh it first when the object may have
// changed.
func (e *VTableEntry) Recompute() error {
	return e.recompute(e.stopID(), e.update)
}

func (e *VTableEntry) UpdateIfNeeded(force bool) bool {
	if e.needsUpdate(force, e.stopID()) {
		_ = e.Recompute()
	}
	return e.state == StateValid
}

func (e *VTableEntry) update() error {
	e.slot = core.InvalidAddress
	e.value = 0
	e.function = symtab.Address{Load: core.InvalidAddress, File: core.InvalidAddress}

	obj := e.object()
	if obj == nil {
		return ErrNoParent
	}
	vtableAddr := e.owner.Address()
	if !vtableAddr.Valid() {
		return ErrInvalidParentAddress
	}
	process := obj.Process()
	if process == nil {
		return ErrNoProcess
	}
	target := obj.Target()
	if target == nil {
		return ErrNoTarget
	}

	slot := vtableAddr.Add(int64(e.index) * int64(e.ptrSize))
	ptr, err := process.ReadPointer(slot)
	if err != nil {
		return newAddrError(MemoryReadFailed, slot, err, "failed to read virtual function entry %s", slot)
	}
	e.slot = slot
	e.value = ptr
	// An unresolved target still leaves a valid entry, just without function info.
	e.function = target.ResolveLoadAddress(core.Address(ptr))
	e.changed = true
	return nil
}

// Address returns the load address of the slot read by the last computation.
func (e *VTableEntry) Address() core.Address {
	return e.slot
}

// Pointer returns the function pointer read by the last computation.
func (e *VTableEntry) Pointer() uint64 {
	return e.value
}

// Function returns what the function pointer resolved to. It is not valid
// when the pointer is outside every module.
func (e *VTableEntry) Function() symtab.Address {
	return e.function
}

func (e *VTableEntry) IsInScope() bool {
	return e.owner != nil && e.owner.IsInScope()
}

func (e *VTableEntry) NumChildren(uint32) uint32 {
	return 0
}

func (e *VTableEntry) ChildAt(uint32) (Node, error) {
	return nil, ErrIndexOutOfRange
}

func (e *VTableEntry) ByteSize() (uint64, bool) {
	return uint64(e.ptrSize), true
}

// TypeName returns the type of the function the entry points to, e.g. "double ()".
func (e *VTableEntry) TypeName() string {
	if e.function.Function == nil {
		return ""
	}
	return e.function.Function.Signature
}

func (e *VTableEntry) DisplayTypeName() string {
	return e.TypeName()
}

func (e *VTableEntry) Value() (string, bool) {
	if !e.UpdateIfNeeded(true) {
		return "", false
	}
	return displayValue(KindVTableEntry, e.value, e.ptrSize), true
}

// Summary describes the function pointed to, as in
// "a.out`Rectangle::Area() at main.cpp:14".
func (e *VTableEntry) Summary() string {
	a := e.function
	if e.state != StateValid || !a.IsValid() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(a.Module.Name())
	sb.WriteByte('`')
	switch {
	case a.Function != nil && a.Function.Name != "":
		sb.WriteString(a.Function.Name)
	case a.Symbol != nil:
		sb.WriteString(a.Symbol.Name)
	default:
		sb.WriteString(a.File.String())
	}
	if off := a.Load - a.SymbolLoadAddress(); a.Symbol != nil && off != 0 {
		fmt.Fprintf(&sb, " + %d", off)
	}
	if fn := a.Function; fn != nil && fn.File != "" {
		fmt.Fprintf(&sb, " at %s:%d", filepath.Base(fn.File), fn.Line)
	}
	return sb.String()
}
