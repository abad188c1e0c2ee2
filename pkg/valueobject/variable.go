package valueobject

import (
	"strings"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
)

// VariableInfo describes where a variable lives.
type VariableInfo struct {
	Name     string
	TypeName string
	Module   *symtab.Module // module the address belongs to, needed for file addresses
	Addr     core.Address
	Class    core.AddressClass
	ByteSize uint64
	// Pointer marks variables holding a pointer. Their single child is the pointee.
	Pointer bool
}

// Variable is a named object in the inferior: a global found through the
// symbol table, or the object a pointer variable points to.
type Variable struct {
	base
	ctx    *ExecutionContext
	parent *Variable
	info   VariableInfo

	addr     core.Address // address of a pointee, read from the parent
	loadAddr core.Address
	contents uint64 // pointer value, for pointer variables
	pointee  *Variable
}

func NewVariable(ctx *ExecutionContext, info VariableInfo) *Variable {
	return &Variable{
		base:     base{name: info.Name},
		ctx:      ctx,
		info:     info,
		addr:     info.Addr,
		loadAddr: core.InvalidAddress,
	}
}

// Deref returns the object v points to. Its address is read from v every time
// it is computed, so it follows reassignments of v.
func (v *Variable) Deref() *Variable {
	if v.pointee == nil {
		typeName := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.info.TypeName), "*"))
		v.pointee = &Variable{
			base:   base{name: "*" + v.info.Name},
			ctx:    v.ctx,
			parent: v,
			info: VariableInfo{
				Name:     "*" + v.info.Name,
				TypeName: typeName,
				Class:    core.AddressLoad,
			},
			addr:     core.InvalidAddress,
			loadAddr: core.InvalidAddress,
		}
	}
	return v.pointee
}

// VTable returns a vtable node bound to v.
func (v *Variable) VTable() *VTable {
	return NewVTable(v)
}

func (v *Variable) Kind() Kind {
	return KindVariable
}

func (v *Variable) Parent() Object {
	if v.parent == nil {
		return nil
	}
	return v.parent
}

func (v *Variable) IsInScope() bool {
	return v.ctx.InScope()
}

func (v *Variable) Module() *symtab.Module {
	return v.info.Module
}

func (v *Variable) Process() Process {
	return v.ctx.Process()
}

func (v *Variable) Target() Target {
	return v.ctx.Target()
}

func (v *Variable) StopID() uint64 {
	return v.ctx.StopID()
}

func (v *Variable) AddressOf(preferLoad bool) (core.Address, core.AddressClass) {
	if preferLoad && v.loadAddr.Valid() {
		return v.loadAddr, core.AddressLoad
	}
	if !v.addr.Valid() {
		return core.InvalidAddress, core.AddressInvalid
	}
	return v.addr, v.info.Class
}

func (v *Variable) Recompute() error {
	return v.recompute(v.StopID(), v.update)
}

func (v *Variable) UpdateIfNeeded(force bool) bool {
	if v.needsUpdate(force, v.StopID()) {
		_ = v.Recompute()
	}
	return v.state == StateValid
}

func (v *Variable) update() error {
	v.loadAddr = core.InvalidAddress
	v.contents = 0
	if !v.IsInScope() {
		return ErrScopeLost
	}
	if v.parent != nil {
		v.addr = core.InvalidAddress
		if !v.parent.UpdateIfNeeded(true) {
			return wrapError(ParentUpdateFailed, v.parent.Err())
		}
		if !v.parent.info.Pointer {
			return ErrInvalidParentAddress
		}
		if v.parent.contents == 0 {
			return newAddrError(NoLoadAddress, 0, nil, "null pointer")
		}
		v.addr = core.Address(v.parent.contents)
	}

	// Look at the raw address; the load address is what is being computed.
	v.loadAddr = core.InvalidAddress
	load := loadAddressOf(v, v.Target())
	if !load.Valid() {
		return ErrNoLoadAddress
	}
	v.loadAddr = load

	if v.info.Pointer {
		process := v.Process()
		if process == nil {
			return ErrNoProcess
		}
		ptr, err := process.ReadPointer(load)
		if err != nil {
			return newAddrError(MemoryReadFailed, load, err, "failed to read %s at %s", v.info.Name, load)
		}
		v.contents = ptr
	}
	v.changed = true
	return nil
}

// LoadAddress returns the load address found by the last computation.
func (v *Variable) LoadAddress() core.Address {
	return v.loadAddr
}

func (v *Variable) NumChildren(max uint32) uint32 {
	if v.info.Pointer && max > 0 {
		return 1
	}
	return 0
}

func (v *Variable) ChildAt(idx uint32) (Node, error) {
	if !v.info.Pointer || idx != 0 {
		return nil, ErrIndexOutOfRange
	}
	return v.Deref(), nil
}

func (v *Variable) ByteSize() (uint64, bool) {
	return v.info.ByteSize, v.info.ByteSize != 0
}

func (v *Variable) TypeName() string {
	return v.info.TypeName
}

func (v *Variable) DisplayTypeName() string {
	return v.info.TypeName
}

// Value renders the pointer held by pointer variables. Other variables have no
// scalar value.
func (v *Variable) Value() (string, bool) {
	if !v.UpdateIfNeeded(true) || !v.info.Pointer {
		return "", false
	}
	var ptrSize uint32
	if p := v.Process(); p != nil {
		ptrSize = p.AddressByteSize()
	}
	return displayValue(KindVariable, v.contents, ptrSize), true
}

func (v *Variable) Summary() string {
	if v.state != StateValid {
		return ""
	}
	return "@ " + v.loadAddr.String()
}
