package symtab

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/dwarfinfo"
)

// Address is a load address resolved against the modules of a Target.
type Address struct {
	Load     core.Address
	File     core.Address // file address inside Module
	Module   *Module
	Symbol   *Symbol             // covering symbol, if any
	Function *dwarfinfo.Function // covering function from debug info, if any
}

// IsValid reports whether the address was found inside a module.
func (a Address) IsValid() bool {
	return a.Module != nil && a.File.Valid()
}

// SymbolLoadAddress returns the load address of the start of the covering symbol.
func (a Address) SymbolLoadAddress() core.Address {
	if !a.IsValid() || a.Symbol == nil || !a.Load.Valid() {
		return core.InvalidAddress
	}
	return a.Load - (a.File - core.Address(a.Symbol.Value))
}

func (a Address) String() string {
	switch {
	case !a.IsValid():
		return a.Load.String()
	case a.Symbol == nil:
		return fmt.Sprintf("%s`%s", a.Module.Name(), a.File)
	}
	off := uint64(a.File) - a.Symbol.Value
	if off == 0 {
		return fmt.Sprintf("%s`%s", a.Module.Name(), a.Symbol.DisplayName)
	}
	return fmt.Sprintf("%s`%s + %d", a.Module.Name(), a.Symbol.DisplayName, off)
}

// Target is the set of modules loaded into one inferior.
type Target struct {
	logger  log.Logger
	metrics *Metrics

	mu      sync.RWMutex
	modules []*Module // sorted by lowest load address
}

// NewTarget returns an empty target. metrics may be nil.
func NewTarget(logger log.Logger, metrics *Metrics) *Target {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Target{
		logger:  logger,
		metrics: metrics,
	}
}

func (t *Target) AddModule(m *Module) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules = append(t.modules, m)
	slices.SortFunc(t.modules, func(a, b *Module) int {
		alo, _ := a.LoadRange()
		blo, _ := b.LoadRange()
		return cmp.Compare(alo, blo)
	})
}

func (t *Target) Modules() []*Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.modules)
}

// ModuleForLoad returns the module covering load address a, or nil.
func (t *Target) ModuleForLoad(a core.Address) *Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.modules {
		if m.ContainsLoad(a) {
			return m
		}
	}
	return nil
}

// ResolveLoadAddress finds the module, symbol and function covering a.
// The result is not valid if no module covers a.
func (t *Target) ResolveLoadAddress(a core.Address) Address {
	res := Address{Load: a, File: core.InvalidAddress}
	m := t.ModuleForLoad(a)
	if m == nil {
		t.metrics.unknownModule()
		return res
	}
	res.Module = m
	res.File = m.LoadToFile(a)
	res.Symbol = m.Symbols.Lookup(uint64(res.File))
	if res.Symbol == nil {
		t.metrics.unknownSymbol(m)
	} else {
		t.metrics.knownSymbol(m)
	}
	if m.Functions != nil {
		fn, err := m.Functions.FunctionAt(uint64(res.File))
		if err == nil {
			res.Function = fn
		} else if !errors.Is(err, dwarfinfo.ErrNoFunction) {
			level.Debug(t.logger).Log("msg", "function lookup failed", "module", m.Path, "addr", a, "err", err)
		}
	}
	return res
}

// ResolveFileAddress translates a file address of m into a load address.
func (t *Target) ResolveFileAddress(m *Module, a core.Address) core.Address {
	if m == nil {
		return core.InvalidAddress
	}
	return m.FileToLoad(a)
}

// FindSymbol looks a symbol up by name in every module, in load order.
func (t *Target) FindSymbol(name string) (*Module, *Symbol) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.modules {
		if s := m.Symbols.Find(name); s != nil {
			return m, s
		}
	}
	return nil, nil
}
