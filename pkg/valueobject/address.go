package valueobject

import "github.com/grafana/vtinspect/pkg/debug/core"

// loadAddressOf returns the address of obj in the inferior's address space.
// File addresses are translated through the object's module; host and
// invalid addresses have no load address.
func loadAddressOf(obj Object, target Target) core.Address {
	addr, class := obj.AddressOf(true)
	if !addr.Valid() {
		return core.InvalidAddress
	}
	switch class {
	case core.AddressLoad:
		return addr
	case core.AddressFile:
		m := obj.Module()
		if m == nil || target == nil {
			return core.InvalidAddress
		}
		return target.ResolveFileAddress(m, addr)
	}
	return core.InvalidAddress
}
