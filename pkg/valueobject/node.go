package valueobject

import "fmt"

// Kind tells the node variants apart. The set is closed.
type Kind uint8

const (
	KindVariable Kind = iota + 1
	KindVTable
	KindVTableEntry
)

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindVTable:
		return "vtable"
	case KindVTableEntry:
		return "vtable entry"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// State is the computation state of a node.
type State uint8

const (
	StateUncomputed State = iota
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUncomputed:
		return "uncomputed"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// displayValue renders a scalar the way nodes of kind k show it. Vtables and
// their entries hold raw addresses without a type and always use 16 hex digits.
func displayValue(k Kind, v uint64, ptrSize uint32) string {
	switch k {
	case KindVTable, KindVTableEntry:
		return fmt.Sprintf("0x%016x", v)
	}
	if ptrSize == 0 {
		ptrSize = 8
	}
	return fmt.Sprintf("0x%0*x", int(ptrSize)*2, v)
}

// base holds the state shared by all node kinds.
type base struct {
	name    string
	state   State
	err     error
	changed bool
	stopID  uint64
}

func (b *base) Name() string {
	return b.name
}

func (b *base) State() State {
	return b.state
}

func (b *base) Err() error {
	return b.err
}

// Changed reports whether the last computation produced a new value.
func (b *base) Changed() bool {
	return b.changed
}

// recompute runs update from a clean slate and records its outcome.
func (b *base) recompute(stopID uint64, update func() error) error {
	b.changed = false
	b.stopID = stopID
	if err := update(); err != nil {
		b.err = err
		b.state = StateInvalid
		return err
	}
	b.err = nil
	b.state = StateValid
	return nil
}

func (b *base) needsUpdate(force bool, stopID uint64) bool {
	return force || b.state == StateUncomputed || b.stopID != stopID
}

var (
	_ Node   = (*Variable)(nil)
	_ Object = (*Variable)(nil)
	_ Node   = (*VTable)(nil)
	_ Node   = (*VTableEntry)(nil)
)
