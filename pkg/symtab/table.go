package symtab

import (
	"cmp"
	"debug/elf"
	"errors"
	"fmt"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/exp/slices"
)

var ErrNoSymbols = errors.New("no symbols")

type SymbolKind uint8

const (
	SymbolFunc SymbolKind = iota + 1
	SymbolObject
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolFunc:
		return "func"
	case SymbolObject:
		return "object"
	}
	return fmt.Sprintf("SymbolKind(%d)", uint8(k))
}

// Symbol is an entry of .symtab or .dynsym.
type Symbol struct {
	Name        string // demangled, e.g. "vtable for Rectangle"
	MangledName string // e.g. "_ZTV9Rectangle"
	DisplayName string // demangled with the configured style
	Value       uint64 // file address
	Size        uint64
	Kind        SymbolKind
}

// ByteSize returns the symbol size. Symbols recorded with size zero have no valid size.
func (s *Symbol) ByteSize() (uint64, bool) {
	return s.Size, s.Size != 0
}

// Contains reports whether file address addr lies inside the symbol.
func (s *Symbol) Contains(addr uint64) bool {
	if s.Size == 0 {
		return addr == s.Value
	}
	return s.Value <= addr && addr < s.Value+s.Size
}

// SymbolTable is a table of function and object symbols sorted by address.
type SymbolTable struct {
	symbols []Symbol
	byName  map[string]int
}

// NewSymbolTable builds a table from raw ELF symbols. Symbols that are undefined
// or neither functions nor objects are dropped. displayOptions control
// DisplayName; an empty set leaves it mangled.
func NewSymbolTable(raw []elf.Symbol, displayOptions []demangle.Option) *SymbolTable {
	t := &SymbolTable{
		symbols: make([]Symbol, 0, len(raw)),
		byName:  make(map[string]int, len(raw)),
	}
	for _, s := range raw {
		var kind SymbolKind
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			kind = SymbolFunc
		case elf.STT_OBJECT, elf.STT_TLS:
			kind = SymbolObject
		default:
			continue
		}
		if s.Section == elf.SHN_UNDEF || s.Value == 0 || s.Name == "" {
			continue
		}
		sym := Symbol{
			Name:        demangle.Filter(s.Name, DemangleFull...),
			MangledName: s.Name,
			DisplayName: s.Name,
			Value:       s.Value,
			Size:        s.Size,
			Kind:        kind,
		}
		if len(displayOptions) > 0 {
			sym.DisplayName = demangle.Filter(s.Name, displayOptions...)
		}
		t.symbols = append(t.symbols, sym)
	}
	slices.SortFunc(t.symbols, func(a, b Symbol) int {
		if c := cmp.Compare(a.Value, b.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.MangledName, b.MangledName)
	})
	// .symtab and .dynsym usually overlap.
	t.symbols = slices.CompactFunc(t.symbols, func(a, b Symbol) bool {
		return a.Value == b.Value && a.MangledName == b.MangledName
	})
	for i := range t.symbols {
		s := &t.symbols[i]
		for _, name := range []string{s.MangledName, s.Name, s.DisplayName} {
			if _, ok := t.byName[name]; !ok {
				t.byName[name] = i
			}
		}
	}
	return t
}

// readSymbols collects .symtab, .dynsym and the mini debug info of f.
func readSymbols(f *elf.File) ([]elf.Symbol, error) {
	sym, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	dynsym, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	all := append(sym, dynsym...)
	mini, miniErr := readMiniDebugInfo(f)
	all = append(all, mini...)
	if len(all) == 0 {
		if miniErr != nil && !errors.Is(miniErr, ErrNoSymbols) {
			return nil, miniErr
		}
		return nil, ErrNoSymbols
	}
	return all, nil
}

func (t *SymbolTable) Size() int {
	return len(t.symbols)
}

// Lookup returns the symbol covering file address addr.
func (t *SymbolTable) Lookup(addr uint64) *Symbol {
	if t == nil {
		return nil
	}
	i, found := slices.BinarySearchFunc(t.symbols, addr, func(s Symbol, a uint64) int {
		return cmp.Compare(s.Value, a)
	})
	if found {
		// Advance past aliases so that the walk below sees all of them.
		for i < len(t.symbols) && t.symbols[i].Value == addr {
			i++
		}
	}
	// Symbols may nest (a sized object with local labels inside), check a few candidates.
	for j := i - 1; j >= 0 && j >= i-4; j-- {
		if t.symbols[j].Contains(addr) {
			return &t.symbols[j]
		}
	}
	return nil
}

// Find returns the symbol with the given mangled, demangled or display name.
func (t *SymbolTable) Find(name string) *Symbol {
	if t == nil {
		return nil
	}
	i, ok := t.byName[name]
	if !ok {
		return nil
	}
	return &t.symbols[i]
}

// Symbols returns all symbols in address order.
func (t *SymbolTable) Symbols() []Symbol {
	if t == nil {
		return nil
	}
	return t.symbols
}
