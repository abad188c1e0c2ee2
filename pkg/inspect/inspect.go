// Package inspect finds the vtables of objects in a core file, a live
// process or an executable that has not started.
package inspect

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/symtab"
	"github.com/grafana/vtinspect/pkg/valueobject"
)

var ErrSymbolNotFound = errors.New("symbol not found")

// Inspector answers vtable queries about one inferior. It is not safe for
// concurrent use: queries against the same inferior are serialized by the caller.
type Inspector struct {
	logger  log.Logger
	cfg     Config
	target  *symtab.Target
	ctx     *valueobject.ExecutionContext
	metrics *metrics
	closer  io.Closer
}

// New opens the inferior named by cfg and loads the modules mapped into it.
func New(logger log.Logger, cfg Config, reg prometheus.Registerer) (*Inspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	process, sysroot, err := openProcess(cfg)
	if err != nil {
		return nil, err
	}
	loader, err := symtab.NewLoader(logger, symtab.LoaderOptions{
		Sysroot:         sysroot,
		DebugDirs:       cfg.DebugDirs,
		DemangleOptions: symtab.ConvertDemangleOptions(cfg.Demangle),
		DWARF:           cfg.DWARF,
		CacheSize:       cfg.CacheSize,
		Metrics:         symtab.NewMetrics(reg),
	})
	if err != nil {
		_ = process.Close()
		return nil, err
	}

	files := process.Files()
	target := loader.LoadTarget(files)
	if cfg.CoreFile != "" && cfg.Executable != "" && !lo.ContainsBy(files, func(f core.FileMapping) bool { return f.Path == cfg.Executable }) {
		m, err := loader.Load(cfg.Executable, nil)
		if err != nil {
			level.Warn(logger).Log("msg", "failed to load executable", "path", cfg.Executable, "err", err)
		} else {
			target.AddModule(m)
		}
	}
	level.Debug(logger).Log("msg", "inferior loaded", "arch", process.Arch(), "files", len(files), "modules", len(target.Modules()))

	in := NewWithTarget(logger, cfg, process, target, reg)
	in.closer = process
	return in, nil
}

func openProcess(cfg Config) (*core.Process, string, error) {
	switch {
	case cfg.CoreFile != "":
		p, err := core.Core(cfg.CoreFile, cfg.Sysroot)
		return p, cfg.Sysroot, err
	case cfg.PID != 0:
		sysroot := cfg.Sysroot
		if sysroot == "" {
			// Paths in /proc/<pid>/maps are relative to the process' mount namespace.
			sysroot = fmt.Sprintf("/proc/%d/root", cfg.PID)
		}
		p, err := core.Attach(cfg.PID)
		return p, sysroot, err
	default:
		// The executable is opened where it is, its mappings name it by that path.
		p, err := core.Executable(cfg.Executable)
		return p, "", err
	}
}

// NewWithTarget returns an inspector over an already opened inferior.
// The caller keeps ownership of process.
func NewWithTarget(logger log.Logger, cfg Config, process valueobject.Process, target *symtab.Target, reg prometheus.Registerer) *Inspector {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 256
	}
	return &Inspector{
		logger:  logger,
		cfg:     cfg,
		target:  target,
		ctx:     valueobject.NewExecutionContext(process, target),
		metrics: newMetrics(reg),
	}
}

func (in *Inspector) Target() *symtab.Target {
	return in.target
}

// Context returns the execution context every value of the inspector is evaluated in.
func (in *Inspector) Context() *valueobject.ExecutionContext {
	return in.ctx
}

// Refresh tells the values handed out so far that the inferior may have
// changed. They recompute on their next query.
func (in *Inspector) Refresh() {
	in.ctx.Invalidate()
}

// Variable returns the global variable called name, found through the symbol
// tables of the loaded modules. name may be mangled, demangled or a display name.
// A pointer variable's vtable is the one of the object it points to.
func (in *Inspector) Variable(name string, pointer bool) (*valueobject.Variable, error) {
	m, s := in.target.FindSymbol(name)
	if s == nil {
		return nil, errors.Wrap(ErrSymbolNotFound, name)
	}
	if s.Kind != symtab.SymbolObject {
		return nil, fmt.Errorf("%s is not a variable", s.Name)
	}
	return valueobject.NewVariable(in.ctx, valueobject.VariableInfo{
		Name:     s.DisplayName,
		Module:   m,
		Addr:     core.Address(s.Value),
		Class:    core.AddressFile,
		ByteSize: s.Size,
		Pointer:  pointer,
	}), nil
}

// VariableAt returns an object at load address addr, e.g. one found on the heap.
func (in *Inspector) VariableAt(addr core.Address, pointer bool) *valueobject.Variable {
	return valueobject.NewVariable(in.ctx, valueobject.VariableInfo{
		Name:    addr.String(),
		Addr:    addr,
		Class:   core.AddressLoad,
		Pointer: pointer,
	})
}

// VTable returns the vtable node of v, or of the object v points to.
func (in *Inspector) VTable(v *valueobject.Variable) *valueobject.VTable {
	if v.NumChildren(1) > 0 {
		return v.Deref().VTable()
	}
	return v.VTable()
}

// Inspect computes the vtable of v and its first entries. Failures are part
// of the report.
func (in *Inspector) Inspect(v *valueobject.Variable) *Report {
	vt := in.VTable(v)
	r := &Report{Object: v.Name()}
	value, ok := vt.Value()
	in.metrics.observe(vt)
	if obj, ok := vt.Object().(*valueobject.Variable); ok && obj.LoadAddress().Valid() {
		r.Address = obj.LoadAddress().String()
	}
	if !ok {
		r.setError(vt.Err())
		level.Debug(in.logger).Log("msg", "no vtable", "object", v.Name(), "err", vt.Err())
		return r
	}
	in.metrics.entries.Observe(float64(vt.EntryCount()))

	r.VTable = vt.Name()
	r.Value = value
	r.NumEntries = vt.EntryCount()
	if s := vt.Symbol(); s != nil {
		r.DisplayName = s.DisplayName
	}
	r.Size, _ = vt.ByteSize()

	n := vt.NumChildren(uint32(min(in.cfg.MaxEntries, uint(^uint32(0)))))
	r.Truncated = uint64(n) < vt.EntryCount()
	for i := uint32(0); i < n; i++ {
		child, err := vt.ChildAt(i)
		if err != nil {
			// The count only shrinks when the vtable changed under us.
			level.Warn(in.logger).Log("msg", "vtable changed while listing entries", "object", v.Name(), "err", err)
			break
		}
		r.Entries = append(r.Entries, in.entryReport(child))
	}
	level.Debug(in.logger).Log("msg", "vtable found", "object", v.Name(), "vtable", r.VTable, "entries", r.NumEntries)
	return r
}

func (in *Inspector) entryReport(n valueobject.Node) EntryReport {
	e := EntryReport{Name: n.Name()}
	value, ok := n.Value()
	in.metrics.observe(n)
	if entry, isEntry := n.(*valueobject.VTableEntry); isEntry && entry.Address().Valid() {
		e.Address = entry.Address().String()
	}
	if !ok {
		e.Error = n.Err().Error()
		return e
	}
	e.Value = value
	e.Type = n.TypeName()
	e.Summary = n.Summary()
	return e
}

// Resolve describes the load address addr with the module and symbol covering it.
func (in *Inspector) Resolve(addr core.Address) symtab.Address {
	return in.target.ResolveLoadAddress(addr)
}

// Modules lists the modules loaded into the inferior.
func (in *Inspector) Modules() []ModuleReport {
	return lo.Map(in.target.Modules(), func(m *symtab.Module, _ int) ModuleReport {
		start, end := m.LoadRange()
		return ModuleReport{
			Path:      m.Path,
			DebugFile: m.DebugFile,
			BuildID:   m.BuildID.ID,
			Start:     start.String(),
			End:       end.String(),
			Size:      uint64(end - start),
			Bias:      core.Address(m.Bias).String(),
			Symbols:   m.Symbols.Size(),
			DWARF:     m.Functions != nil,
		}
	})
}

// Close releases the inferior opened by New.
func (in *Inspector) Close() error {
	if in.closer == nil {
		return nil
	}
	return in.closer.Close()
}
