// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "fmt"

// An Address is a location in the inferior's address space.
type Address uint64

// InvalidAddress marks an address that could not be computed.
const InvalidAddress = ^Address(0)

// Sub subtracts b from a. Requires a >= b.
func (a Address) Sub(b Address) int64 {
	return int64(a - b)
}

// Add adds x to address a.
func (a Address) Add(x int64) Address {
	return a + Address(x)
}

// Max returns the larger of a and b.
func (a Address) Max(b Address) Address {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func (a Address) Min(b Address) Address {
	if a < b {
		return a
	}
	return b
}

// Align rounds a up to a multiple of x.
// x must be a power of 2.
func (a Address) Align(x int64) Address {
	return (a + Address(x) - 1) & ^(Address(x) - 1)
}

// Valid reports whether a is not InvalidAddress.
func (a Address) Valid() bool {
	return a != InvalidAddress
}

// String renders a as a fixed-width hexadecimal number.
func (a Address) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// AddressClass tells which address space an Address belongs to.
type AddressClass uint8

const (
	// AddressInvalid means there is no usable address.
	AddressInvalid AddressClass = iota
	// AddressFile is an address as recorded in an on-disk binary, before relocation.
	AddressFile
	// AddressLoad is an address in the debuggee's running address space.
	AddressLoad
	// AddressHost is an address in the debugger's own memory.
	AddressHost
)

func (c AddressClass) String() string {
	switch c {
	case AddressFile:
		return "file"
	case AddressLoad:
		return "load"
	case AddressHost:
		return "host"
	default:
		return "invalid"
	}
}
