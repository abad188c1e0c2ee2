// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"cmp"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/slices"
)

// A Mapping represents a contiguous subset of the inferior's address space.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	src  io.ReaderAt // data backing this region, nil for zero-filled memory
	off  int64       // offset of start of this mapping in src
	name string      // describes src, for printing
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Address {
	return m.min
}

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Address {
	return m.max
}

// Size returns int64(Max-Min)
func (m *Mapping) Size() int64 {
	return m.max.Sub(m.min)
}

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm {
	return m.perm
}

// Source returns the name of the data backing the mapping and the offset into it,
// or "", 0 if the mapping is zero-filled.
func (m *Mapping) Source() (string, int64) {
	if m.src == nil {
		return "", 0
	}
	return m.name, m.off
}

func (m *Mapping) String() string {
	return fmt.Sprintf("%s-%s %s %s", m.min, m.max, m.perm, m.name)
}

// readAt fills p from the mapping starting at a. a and a+len(p) must lie inside m.
func (m *Mapping) readAt(p []byte, a Address) error {
	if m.src == nil {
		clear(p)
		return nil
	}
	n, err := m.src.ReadAt(p, m.off+a.Sub(m.min))
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// OS pages are assumed to be at least 4K in size, so every mapping starts
// and ends at a multiple of 4K.
const pageSize Address = 1 << 12

// splicedMemory is an address space formed from multiple regions, kept sorted
// by address and non-overlapping. Later regions win over earlier ones where
// they overlap.
type splicedMemory struct {
	mappings []*Mapping
}

// Add maps [min, max) to src at off, widened to whole pages.
func (s *splicedMemory) Add(min, max Address, perm Perm, src io.ReaderAt, off int64, name string) {
	if max <= min {
		return
	}
	if gap := min % pageSize; gap != 0 {
		off -= int64(gap)
		min -= gap
	}
	max = max.Align(int64(pageSize))

	kept := make([]*Mapping, 0, len(s.mappings)+2)
	for _, m := range s.mappings {
		kept = append(kept, m.outside(min, max)...)
	}
	kept = append(kept, &Mapping{min: min, max: max, perm: perm, src: src, off: off, name: name})
	slices.SortFunc(kept, func(a, b *Mapping) int {
		return cmp.Compare(a.min, b.min)
	})
	s.mappings = kept
}

// outside returns the parts of m that are not in [min, max).
func (m *Mapping) outside(min, max Address) []*Mapping {
	if m.max <= min || max <= m.min {
		return []*Mapping{m}
	}
	var parts []*Mapping
	if m.min < min {
		before := *m
		before.max = min
		parts = append(parts, &before)
	}
	if max < m.max {
		after := *m
		if after.src != nil {
			after.off += max.Sub(m.min)
		}
		after.min = max
		parts = append(parts, &after)
	}
	return parts
}

// find returns the mapping holding a, or nil.
func (s *splicedMemory) find(a Address) *Mapping {
	i, found := slices.BinarySearchFunc(s.mappings, a, func(m *Mapping, a Address) int {
		return cmp.Compare(m.min, a)
	})
	if found {
		return s.mappings[i]
	}
	if i == 0 || a >= s.mappings[i-1].max {
		return nil
	}
	return s.mappings[i-1]
}

// check reports mappings that do not cover whole pages.
func (s *splicedMemory) check() error {
	for _, m := range s.mappings {
		if m.min%pageSize != 0 || m.max%pageSize != 0 {
			return fmt.Errorf("mapping %s is not page aligned", m)
		}
	}
	return nil
}
