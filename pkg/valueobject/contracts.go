package valueobject

import (
	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
)

// Process reads the memory of the inferior. *core.Process implements it.
type Process interface {
	ReadPointer(addr core.Address) (uint64, error)
	AddressByteSize() uint32
}

// Target resolves addresses against the modules loaded into the inferior.
// *symtab.Target implements it.
type Target interface {
	ResolveLoadAddress(addr core.Address) symtab.Address
	ResolveFileAddress(m *symtab.Module, fileAddr core.Address) core.Address
}

// Object is a value whose vtable can be inspected.
type Object interface {
	Name() string
	Parent() Object
	IsInScope() bool
	// UpdateIfNeeded refreshes the object and reports whether it is valid.
	UpdateIfNeeded(force bool) bool
	// AddressOf returns where the object lives. With preferLoad the object
	// returns a load address when it knows one.
	AddressOf(preferLoad bool) (core.Address, core.AddressClass)
	Module() *symtab.Module
	Process() Process
	Target() Target
	// StopID changes whenever the inferior may have changed.
	StopID() uint64
}

// Node is a lazily computed entry of an inspection tree.
type Node interface {
	Kind() Kind
	Name() string
	// Recompute derives the node state from scratch. The returned error is
	// also kept by the node and reported by Err.
	Recompute() error
	// UpdateIfNeeded recomputes when forced or when the inferior changed since
	// the last computation, and reports whether the node is valid.
	UpdateIfNeeded(force bool) bool
	State() State
	Err() error
	IsInScope() bool
	NumChildren(max uint32) uint32
	ChildAt(idx uint32) (Node, error)
	ByteSize() (uint64, bool)
	TypeName() string
	DisplayTypeName() string
	// Value recomputes the node and renders its value.
	Value() (string, bool)
	Summary() string
}

type exiter interface {
	Exited() bool
}

// ExecutionContext holds the process and target a tree of values is evaluated
// against. Nodes never own them: a detached context or an exited process
// reads as absent on the next computation.
type ExecutionContext struct {
	process Process
	target  Target
	inScope bool
	stopID  uint64
}

func NewExecutionContext(process Process, target Target) *ExecutionContext {
	return &ExecutionContext{
		process: process,
		target:  target,
		inScope: true,
	}
}

func (c *ExecutionContext) Process() Process {
	if c == nil || c.process == nil {
		return nil
	}
	if e, ok := c.process.(exiter); ok && e.Exited() {
		return nil
	}
	return c.process
}

func (c *ExecutionContext) Target() Target {
	if c == nil {
		return nil
	}
	return c.target
}

func (c *ExecutionContext) InScope() bool {
	return c != nil && c.inScope
}

// SetInScope marks the frame or scope the values were found in as entered or left.
func (c *ExecutionContext) SetInScope(inScope bool) {
	c.inScope = inScope
	c.stopID++
}

func (c *ExecutionContext) StopID() uint64 {
	if c == nil {
		return 0
	}
	return c.stopID
}

// Invalidate tells nodes that the inferior may have changed, e.g. after it
// was resumed and stopped again.
func (c *ExecutionContext) Invalidate() {
	c.stopID++
}

// Detach drops the process and target.
func (c *ExecutionContext) Detach() {
	c.process = nil
	c.target = nil
	c.stopID++
}
