package valueobject

import (
	"errors"
	"fmt"

	"github.com/grafana/vtinspect/pkg/debug/core"
)

var ErrIndexOutOfRange = errors.New("child index out of range")

type ErrorKind uint8

const (
	NoParent ErrorKind = iota + 1
	ScopeLost
	ParentUpdateFailed
	NoProcess
	NoTarget
	InvalidParentAddress
	NoLoadAddress
	MemoryReadFailed
	UnresolvedAddress
	NotAVTable
)

func (k ErrorKind) String() string {
	switch k {
	case NoParent:
		return "no parent object"
	case ScopeLost:
		return "object is not in scope"
	case ParentUpdateFailed:
		return "failed to update parent"
	case NoProcess:
		return "no process"
	case NoTarget:
		return "no target"
	case InvalidParentAddress:
		return "parent has invalid address"
	case NoLoadAddress:
		return "parent is not in memory"
	case MemoryReadFailed:
		return "memory read failed"
	case UnresolvedAddress:
		return "unable to resolve address"
	case NotAVTable:
		return "not a vtable"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Error is the error a node keeps after a failed computation.
type Error struct {
	Kind ErrorKind
	Addr core.Address // address involved, core.InvalidAddress if none
	msg  string
	err  error
}

func newError(kind ErrorKind) *Error {
	return &Error{Kind: kind, Addr: core.InvalidAddress, msg: kind.String()}
}

func newAddrError(kind ErrorKind, addr core.Address, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Addr: addr, msg: fmt.Sprintf(format, args...), err: cause}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches errors of the same kind, so errors.Is(err, ErrNotAVTable) works
// whatever the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoParent             = newError(NoParent)
	ErrScopeLost            = newError(ScopeLost)
	ErrParentUpdateFailed   = newError(ParentUpdateFailed)
	ErrNoProcess            = newError(NoProcess)
	ErrNoTarget             = newError(NoTarget)
	ErrInvalidParentAddress = newError(InvalidParentAddress)
	ErrNoLoadAddress        = newError(NoLoadAddress)
	ErrMemoryReadFailed     = newError(MemoryReadFailed)
	ErrUnresolvedAddress    = newError(UnresolvedAddress)
	ErrNotAVTable           = newError(NotAVTable)
)

func wrapError(kind ErrorKind, cause error) *Error {
	e := newError(kind)
	e.err = cause
	return e
}
