package valueobject

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/dwarfinfo"
	"github.com/grafana/vtinspect/pkg/symtab"
)

// The fixture mirrors a small C++ program:
//
//	struct Shape { virtual double Area(); virtual double Perimeter(); virtual ~Shape(); };
//	struct Rectangle : Shape { ... };
//	struct Circle : Shape { double Area(); ~Circle(); };
//	Rectangle g_rect; Circle g_circle; Point g_point; Shape *g_shape = &g_rect;
//
// linked as a position independent executable and loaded at bias.
const (
	bias = 0x10000000

	dataStart    = 0x600000
	rectVTable   = 0x600100 // _ZTV9Rectangle, 16 byte header then 4 entries
	circleVTable = 0x600200 // _ZTV6Circle, 16 byte header then 3 entries
	gRect        = 0x600400
	gCircle      = 0x600420
	gPoint       = 0x600440
	gFuncFirst   = 0x600448
	gShape       = 0x600460

	rectArea      = 0x401000
	rectPerimeter = 0x401020
	rectD1        = 0x401040
	rectD0        = 0x401060
	circleArea    = 0x401100
	circleD1      = 0x401120
	circleD0      = 0x401140

	unmappedFunction = 0x7ff000000000
)

type fakeFunctions []*dwarfinfo.Function

func (f fakeFunctions) FunctionAt(pc uint64) (*dwarfinfo.Function, error) {
	for _, fn := range f {
		if fn.Low <= pc && pc < fn.High {
			return fn, nil
		}
	}
	return nil, dwarfinfo.ErrNoFunction
}

type fixture struct {
	process *core.Process
	target  *symtab.Target
	module  *symtab.Module
	ctx     *ExecutionContext
	data    []byte
}

func load(a uint64) uint64 {
	return a + bias
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	object := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT)
	function := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
	sym := func(name string, info byte, value, size uint64) elf.Symbol {
		return elf.Symbol{Name: name, Info: info, Section: 1, Value: value, Size: size}
	}
	m := &symtab.Module{
		Path: "/work/a.out",
		Layout: &symtab.BinaryLayout{
			ElfType: elf.ET_DYN,
			Segments: []symtab.MemoryRegion{
				{Off: 0x1000, Vaddr: 0x401000, Filesz: 0x1000, Memsz: 0x1000, Flags: elf.PF_R | elf.PF_X},
				{Off: 0x2000, Vaddr: dataStart, Filesz: 0x2000, Memsz: 0x2000, Flags: elf.PF_R | elf.PF_W},
			},
		},
		Bias: bias,
		Symbols: symtab.NewSymbolTable([]elf.Symbol{
			sym("_ZTV9Rectangle", object, rectVTable, 48),
			sym("_ZTV6Circle", object, circleVTable, 40),
			sym("_ZN9Rectangle4AreaEv", function, rectArea, 0x20),
			sym("_ZN9Rectangle9PerimeterEv", function, rectPerimeter, 0x20),
			sym("_ZN9RectangleD1Ev", function, rectD1, 0x20),
			sym("_ZN9RectangleD0Ev", function, rectD0, 0x20),
			sym("_ZN6Circle4AreaEv", function, circleArea, 0x20),
			sym("_ZN6CircleD1Ev", function, circleD1, 0x20),
			sym("_ZN6CircleD0Ev", function, circleD0, 0x20),
			sym("g_rect", object, gRect, 16),
			sym("g_circle", object, gCircle, 16),
			sym("g_point", object, gPoint, 8),
			sym("g_func_first", object, gFuncFirst, 8),
			sym("g_shape", object, gShape, 8),
		}, symtab.DemangleSimplified),
		Functions: fakeFunctions{
			{Name: "Rectangle::Area()", DisplayName: "Rectangle::Area", Signature: "double ()", File: "/work/main.cpp", Line: 14, Low: rectArea, High: rectArea + 0x20},
			{Name: "Rectangle::Perimeter()", DisplayName: "Rectangle::Perimeter", Signature: "double ()", File: "/work/main.cpp", Line: 15, Low: rectPerimeter, High: rectPerimeter + 0x20},
			{Name: "Rectangle::~Rectangle()", DisplayName: "Rectangle::~Rectangle", Signature: "void ()", File: "/work/main.cpp", Line: 12, Low: rectD1, High: rectD0 + 0x20},
		},
	}
	target := symtab.NewTarget(nil, nil)
	target.AddModule(m)

	data := make([]byte, 0x2000)
	put := func(fileAddr, v uint64) {
		binary.LittleEndian.PutUint64(data[fileAddr-dataStart:], v)
	}
	for i, fn := range []uint64{rectArea, rectPerimeter, rectD1, unmappedFunction} {
		put(rectVTable+16+uint64(i)*8, load(fn))
	}
	for i, fn := range []uint64{circleArea, circleD1, circleD0} {
		put(circleVTable+16+uint64(i)*8, load(fn))
	}
	put(gRect, load(rectVTable+16))
	put(gCircle, load(circleVTable+16))
	put(gPoint, 0x12345)
	put(gFuncFirst, load(rectArea))
	put(gShape, load(gRect))

	p := core.NewImage(8, binary.LittleEndian)
	require.NoError(t, p.Map(core.Address(load(dataStart)), data, core.Read|core.Write))

	return &fixture{
		process: p,
		target:  target,
		module:  m,
		ctx:     NewExecutionContext(p, target),
		data:    data,
	}
}

// global returns a variable found through the symbol table, addressed by its file address.
func (f *fixture) global(name string, pointer bool) *Variable {
	s := f.module.Symbols.Find(name)
	if s == nil {
		panic("no symbol " + name)
	}
	return NewVariable(f.ctx, VariableInfo{
		Name:     name,
		Module:   f.module,
		Addr:     core.Address(s.Value),
		Class:    core.AddressFile,
		ByteSize: s.Size,
		Pointer:  pointer,
	})
}
