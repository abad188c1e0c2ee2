package valueobject

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
)

func TestVTable(t *testing.T) {
	f := newFixture(t)
	vt := f.global("g_rect", false).VTable()

	require.Equal(t, KindVTable, vt.Kind())
	require.Equal(t, StateUncomputed, vt.State())
	require.Equal(t, uint32(0), vt.NumChildren(100))
	_, ok := vt.ByteSize()
	require.False(t, ok)

	require.NoError(t, vt.Recompute())
	require.Equal(t, StateValid, vt.State())
	require.True(t, vt.Changed())
	require.Equal(t, "vtable for Rectangle", vt.Name())
	require.Equal(t, "vtable for Rectangle", vt.TypeName())
	require.Equal(t, "vtable for Rectangle", vt.DisplayTypeName())
	require.Equal(t, "_ZTV9Rectangle", vt.Symbol().MangledName)
	require.Equal(t, uint64(4), vt.EntryCount())
	require.Equal(t, uint32(8), vt.AddressByteSize())
	size, ok := vt.ByteSize()
	require.True(t, ok)
	require.Equal(t, uint64(48), size)
	require.True(t, vt.IsInScope())

	value, ok := vt.Value()
	require.True(t, ok)
	require.Equal(t, "0x0000000010600110", value)
	require.Equal(t, core.Address(load(rectVTable+16)), vt.Address())
}

func TestVTableNumChildren(t *testing.T) {
	f := newFixture(t)
	vt := f.global("g_rect", false).VTable()
	require.NoError(t, vt.Recompute())
	for max := uint32(0); max < 10; max++ {
		expected := max
		if expected > 4 {
			expected = 4
		}
		require.Equal(t, expected, vt.NumChildren(max), "max %d", max)
	}
}

func TestVTableEntries(t *testing.T) {
	f := newFixture(t)
	vt := f.global("g_rect", false).VTable()
	require.NoError(t, vt.Recompute())

	expected := []struct {
		value    string
		typeName string
		summary  string
	}{
		{"0x0000000010401000", "double ()", "a.out`Rectangle::Area() at main.cpp:14"},
		{"0x0000000010401020", "double ()", "a.out`Rectangle::Perimeter() at main.cpp:15"},
		{"0x0000000010401040", "void ()", "a.out`Rectangle::~Rectangle() at main.cpp:12"},
		{fmt.Sprintf("0x%016x", uint64(load(unmappedFunction))), "", ""},
	}
	var prev core.Address
	for i := uint32(0); i < vt.NumChildren(100); i++ {
		child, err := vt.ChildAt(i)
		require.NoError(t, err)
		e := child.(*VTableEntry)
		require.Equal(t, KindVTableEntry, e.Kind())
		require.Equal(t, fmt.Sprintf("[%d]", i), e.Name())
		require.Equal(t, StateUncomputed, e.State())

		value, ok := e.Value()
		require.True(t, ok, "entry %d: %v", i, e.Err())
		require.Equal(t, expected[i].value, value)
		require.Equal(t, expected[i].typeName, e.TypeName())
		require.Equal(t, expected[i].typeName, e.DisplayTypeName())
		require.Equal(t, expected[i].summary, e.Summary())

		require.Equal(t, vt.Address().Add(int64(i)*8), e.Address())
		if i > 0 {
			require.Equal(t, int64(8), e.Address().Sub(prev))
		}
		prev = e.Address()

		size, ok := e.ByteSize()
		require.True(t, ok)
		require.Equal(t, uint64(8), size)
		require.Equal(t, uint32(0), e.NumChildren(10))
		_, err = e.ChildAt(0)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		require.True(t, e.IsInScope())
	}

	_, err := vt.ChildAt(4)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestVTableUnresolvedEntryIsValid(t *testing.T) {
	f := newFixture(t)
	vt := f.global("g_rect", false).VTable()
	require.NoError(t, vt.Recompute())
	e, err := vt.Entry(3)
	require.NoError(t, err)
	require.NoError(t, e.Recompute())
	require.False(t, e.Function().IsValid())
	require.Equal(t, uint64(load(unmappedFunction)), e.Pointer())
}

func TestVTableNotPolymorphic(t *testing.T) {
	testcases := []struct {
		name     string
		variable string
		kind     error
	}{
		{"pointer outside every module", "g_point", ErrUnresolvedAddress},
		{"pointer to a function", "g_func_first", ErrNotAVTable},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			vt := f.global(tc.variable, false).VTable()
			err := vt.Recompute()
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, StateInvalid, vt.State())
			require.Equal(t, err, vt.Err())
			require.NotEmpty(t, vt.Err().Error())
			require.Equal(t, uint64(0), vt.EntryCount())
			require.Equal(t, uint32(0), vt.NumChildren(100))
			require.Nil(t, vt.Symbol())
			require.Empty(t, vt.TypeName())
			_, ok := vt.ByteSize()
			require.False(t, ok)
			_, ok = vt.Value()
			require.False(t, ok)
			require.Equal(t, "vtable", vt.Name())
		})
	}
}

func TestVTableFollowsReassignedPointer(t *testing.T) {
	f := newFixture(t)
	shape := f.global("g_shape", true)
	vt := shape.Deref().VTable()

	require.NoError(t, vt.Recompute())
	require.Equal(t, "vtable for Rectangle", vt.Name())
	require.Equal(t, uint64(4), vt.EntryCount())

	// g_shape = &g_circle
	require.NoError(t, f.process.WritePointer(core.Address(load(gShape)), load(gCircle)))
	f.ctx.Invalidate()

	require.True(t, vt.UpdateIfNeeded(false))
	require.Equal(t, "vtable for Circle", vt.Name())
	require.Equal(t, uint64(3), vt.EntryCount())
	size, _ := vt.ByteSize()
	require.Equal(t, uint64(40), size)

	e, err := vt.Entry(0)
	require.NoError(t, err)
	require.NoError(t, e.Recompute())
	require.Equal(t, uint64(load(circleArea)), e.Pointer())
	require.Equal(t, "a.out`Circle::Area()", e.Summary())
}

func TestVTableMemoryReadRecovers(t *testing.T) {
	f := newFixture(t)
	const objAddr = 0x30000000
	obj := NewVariable(f.ctx, VariableInfo{Name: "heap", Addr: objAddr, Class: core.AddressLoad})
	vt := obj.VTable()

	err := vt.Recompute()
	require.ErrorIs(t, err, ErrMemoryReadFailed)
	require.ErrorIs(t, err, core.ErrUnmapped)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, core.Address(objAddr), verr.Addr)
	require.Equal(t, uint64(0), vt.EntryCount())

	heap := make([]byte, 0x1000)
	binary.LittleEndian.PutUint64(heap, load(rectVTable+16))
	require.NoError(t, f.process.Map(objAddr, heap, core.Read|core.Write))

	require.NoError(t, vt.Recompute())
	require.Nil(t, vt.Err())
	require.Equal(t, uint64(4), vt.EntryCount())
}

func TestVTableUpdateIfNeeded(t *testing.T) {
	f := newFixture(t)
	vt := f.global("g_shape", true).Deref().VTable()
	require.True(t, vt.UpdateIfNeeded(false))
	require.Equal(t, "vtable for Rectangle", vt.Name())

	// Memory changes are not seen until the inferior is known to have changed.
	require.NoError(t, f.process.WritePointer(core.Address(load(gShape)), load(gCircle)))
	require.True(t, vt.UpdateIfNeeded(false))
	require.Equal(t, "vtable for Rectangle", vt.Name())

	f.ctx.Invalidate()
	require.True(t, vt.UpdateIfNeeded(false))
	require.Equal(t, "vtable for Circle", vt.Name())
}

func TestVTableFirstMemberAmbiguity(t *testing.T) {
	f := newFixture(t)
	// An object whose first member is a Rectangle shows the member's vtable.
	outer := NewVariable(f.ctx, VariableInfo{Name: "outer", Module: f.module, Addr: gRect, Class: core.AddressFile, ByteSize: 32})
	vt := outer.VTable()
	require.NoError(t, vt.Recompute())
	require.Equal(t, "vtable for Rectangle", vt.Name())
}

func TestVTableEntryCountFromPointer(t *testing.T) {
	const vtableAddr = 0x8000
	testcases := []struct {
		name     string
		ptrSize  int64
		size     uint64
		offset   uint64
		expected uint64
	}{
		{"64-bit itanium header", 8, 48, 16, 4},
		{"64-bit pointer at symbol start", 8, 48, 0, 6},
		{"32-bit itanium header", 4, 20, 8, 3},
		{"32-bit pointer at symbol start", 4, 20, 0, 5},
		{"size not a multiple of pointers", 8, 30, 0, 3},
		{"pointer at last byte", 8, 48, 47, 0},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			order := binary.LittleEndian
			p := core.NewImage(tc.ptrSize, order)
			mem := make([]byte, 0x1000)
			const objAddr = 0x8800
			if tc.ptrSize == 8 {
				order.PutUint64(mem[objAddr-vtableAddr:], vtableAddr+tc.offset)
			} else {
				order.PutUint32(mem[objAddr-vtableAddr:], uint32(vtableAddr+tc.offset))
			}
			require.NoError(t, p.Map(vtableAddr, mem, core.Read))

			m := &symtab.Module{
				Path: "/work/b.out",
				Layout: &symtab.BinaryLayout{Segments: []symtab.MemoryRegion{
					{Vaddr: vtableAddr, Memsz: 0x1000},
				}},
				Symbols: symtab.NewSymbolTable(nil, nil),
			}
			target := &staticTarget{module: m, symbol: &symtab.Symbol{Name: "vtable for Box", Value: vtableAddr, Size: tc.size}}
			obj := NewVariable(NewExecutionContext(p, target), VariableInfo{Name: "box", Addr: objAddr, Class: core.AddressLoad})
			vt := obj.VTable()
			require.NoError(t, vt.Recompute())
			require.Equal(t, tc.expected, vt.EntryCount())
			require.Equal(t, uint32(tc.ptrSize), vt.AddressByteSize())
			if tc.expected > 1 {
				e0, _ := vt.Entry(0)
				e1, _ := vt.Entry(1)
				require.NoError(t, e0.Recompute())
				require.NoError(t, e1.Recompute())
				require.Equal(t, tc.ptrSize, e1.Address().Sub(e0.Address()))
			}
		})
	}
}

// staticTarget resolves every address in [symbol.Value, module end) to one symbol.
type staticTarget struct {
	module *symtab.Module
	symbol *symtab.Symbol
}

func (s *staticTarget) ResolveLoadAddress(a core.Address) symtab.Address {
	if !s.module.ContainsLoad(a) {
		return symtab.Address{Load: a, File: core.InvalidAddress}
	}
	return symtab.Address{Load: a, File: a, Module: s.module, Symbol: s.symbol}
}

func (s *staticTarget) ResolveFileAddress(m *symtab.Module, a core.Address) core.Address {
	return m.FileToLoad(a)
}
