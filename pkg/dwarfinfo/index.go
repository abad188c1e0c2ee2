package dwarfinfo

import (
	"cmp"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/go-delve/delve/pkg/dwarf/reader"
	"github.com/ianlancetaylor/demangle"
	"golang.org/x/exp/slices"
)

var ErrNoFunction = errors.New("no function covers address")

// DW_AT_MIPS_linkage_name, emitted for linkage names before DWARF 4.
const attrMIPSLinkageName dwarf.Attr = 0x2007

// Function describes the subprogram covering an address.
type Function struct {
	Name        string // demangled, with parameters, e.g. Rectangle::Area()
	DisplayName string // demangled, without parameters
	LinkageName string
	Signature   string // function type, e.g. double ()
	File        string
	Line        int
	Low         uint64
	High        uint64
}

// Index answers "which function covers this file address" from DWARF debug info.
// Compilation units are indexed lazily on first use.
type Index struct {
	data *dwarf.Data

	mu    sync.Mutex
	units map[dwarf.Offset]*unit
}

type unit struct {
	subprograms []*godwarf.Tree
	lines       []dwarf.LineEntry
}

// valuer is implemented by *dwarf.Entry and *godwarf.Tree.
type valuer interface {
	Val(dwarf.Attr) interface{}
}

func New(data *dwarf.Data) *Index {
	return &Index{
		data:  data,
		units: make(map[dwarf.Offset]*unit),
	}
}

// Load builds an index from the DWARF sections of f.
func Load(f *elf.File) (*Index, error) {
	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("read dwarf: %w", err)
	}
	return New(data), nil
}

// FunctionAt returns the function whose ranges contain pc.
func (x *Index) FunctionAt(pc uint64) (*Function, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	er := reader.New(x.data)
	cu, err := er.SeekPC(pc)
	if err != nil || cu == nil {
		return nil, fmt.Errorf("%w: 0x%x", ErrNoFunction, pc)
	}
	u, err := x.unit(cu)
	if err != nil {
		return nil, err
	}
	for _, tree := range u.subprograms {
		if tree.ContainsPC(pc) {
			return x.function(tree, u), nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrNoFunction, pc)
}

func (x *Index) unit(cu *dwarf.Entry) (*unit, error) {
	if u, ok := x.units[cu.Offset]; ok {
		return u, nil
	}
	u := &unit{}
	if err := x.readLines(cu, u); err != nil {
		return nil, err
	}
	if err := x.readSubprograms(cu, u); err != nil {
		return nil, err
	}
	x.units[cu.Offset] = u
	return u, nil
}

func (x *Index) readLines(cu *dwarf.Entry, u *unit) error {
	lr, err := x.data.LineReader(cu)
	if err != nil {
		return fmt.Errorf("create line reader: %w", err)
	}
	if lr == nil {
		return nil
	}
	for {
		var entry dwarf.LineEntry
		if err := lr.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read line entry: %w", err)
		}
		if entry.IsStmt && !entry.EndSequence {
			u.lines = append(u.lines, entry)
		}
	}
	slices.SortStableFunc(u.lines, func(a, b dwarf.LineEntry) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return nil
}

func (x *Index) readSubprograms(cu *dwarf.Entry, u *unit) error {
	r := x.data.Reader()
	r.Seek(cu.Offset)
	entry, err := r.Next()
	if err != nil {
		return fmt.Errorf("read compile unit: %w", err)
	}
	if entry == nil || entry.Tag != dwarf.TagCompileUnit {
		return fmt.Errorf("unexpected entry at compile unit offset %v", cu.Offset)
	}
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("read entry: %w", err)
		}
		if entry == nil || entry.Tag == dwarf.TagCompileUnit {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		// Declarations and abstract instances carry no code.
		if entry.Val(dwarf.AttrLowpc) == nil && entry.Val(dwarf.AttrRanges) == nil {
			continue
		}
		tree, err := godwarf.LoadTree(entry.Offset, x.data, 0)
		if err != nil {
			return fmt.Errorf("load subprogram tree: %w", err)
		}
		u.subprograms = append(u.subprograms, tree)
	}
	return nil
}

func (x *Index) function(tree *godwarf.Tree, u *unit) *Function {
	fn := &Function{}
	if len(tree.Ranges) > 0 {
		fn.Low, fn.High = tree.Ranges[0][0], tree.Ranges[0][1]
	}
	name, _ := x.attr(tree, dwarf.AttrName).(string)
	fn.LinkageName, _ = x.attr(tree, dwarf.AttrLinkageName).(string)
	if fn.LinkageName == "" {
		// Older producers.
		fn.LinkageName, _ = x.attr(tree, attrMIPSLinkageName).(string)
	}
	if fn.LinkageName != "" {
		fn.Name = demangle.Filter(fn.LinkageName, demangle.NoClones)
		fn.DisplayName = demangle.Filter(fn.LinkageName, demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams)
	} else {
		fn.Name = name
		fn.DisplayName = name
	}
	fn.Signature = x.signature(tree)
	fn.File, fn.Line = lineFor(u.lines, fn.Low)
	return fn
}

func (x *Index) signature(tree *godwarf.Tree) string {
	ret := "void"
	if off, ok := x.attr(tree, dwarf.AttrType).(dwarf.Offset); ok {
		ret = x.typeName(off, 0)
	}
	var params []string
	for _, child := range tree.Children {
		if child.Tag != dwarf.TagFormalParameter {
			continue
		}
		if artificial, _ := x.attr(child, dwarf.AttrArtificial).(bool); artificial {
			continue
		}
		typ := "?"
		if off, ok := x.attr(child, dwarf.AttrType).(dwarf.Offset); ok {
			typ = x.typeName(off, 0)
		}
		params = append(params, typ)
	}
	return ret + " (" + strings.Join(params, ", ") + ")"
}

// attr looks an attribute up on e, then along its specification and abstract
// origin chain, where out-of-line definitions keep their names and types.
func (x *Index) attr(e valuer, a dwarf.Attr) interface{} {
	for depth := 0; e != nil && depth < 8; depth++ {
		if v := e.Val(a); v != nil {
			return v
		}
		off, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset)
		if !ok {
			off, ok = e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		}
		if !ok {
			return nil
		}
		next, err := x.entryAt(off)
		if err != nil || next == nil {
			return nil
		}
		e = next
	}
	return nil
}

func (x *Index) entryAt(off dwarf.Offset) (*dwarf.Entry, error) {
	r := x.data.Reader()
	r.Seek(off)
	return r.Next()
}

func (x *Index) typeName(off dwarf.Offset, depth int) string {
	if depth > 8 {
		return "?"
	}
	e, err := x.entryAt(off)
	if err != nil || e == nil {
		return "?"
	}
	inner := "void"
	if next, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		inner = x.typeName(next, depth+1)
	}
	switch e.Tag {
	case dwarf.TagPointerType:
		return inner + " *"
	case dwarf.TagReferenceType:
		return inner + " &"
	case dwarf.TagRvalueReferenceType:
		return inner + " &&"
	case dwarf.TagConstType:
		return "const " + inner
	case dwarf.TagVolatileType:
		return "volatile " + inner
	}
	if name, ok := e.Val(dwarf.AttrName).(string); ok {
		return name
	}
	return inner
}

// lineFor returns the row of the line table at addr, or the closest one before it.
func lineFor(lines []dwarf.LineEntry, addr uint64) (string, int) {
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].Address > addr
	})
	if i == 0 {
		return "", 0
	}
	e := lines[i-1]
	if e.File == nil {
		return "", e.Line
	}
	return e.File.Name, e.Line
}
