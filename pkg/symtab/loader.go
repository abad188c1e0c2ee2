package symtab

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ianlancetaylor/demangle"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/dwarfinfo"
)

type LoaderOptions struct {
	// Sysroot is prepended to every path read from the inferior.
	Sysroot string
	// DebugDirs are the global debug directories, searched for separate debug files.
	DebugDirs       []string
	DemangleOptions []demangle.Option
	// DWARF enables function lookups from debug info.
	DWARF     bool
	CacheSize int
	Metrics   *Metrics // may be nil for tests
}

// objectData is what a Loader caches per ELF object, independent of where it is loaded.
type objectData struct {
	buildID   BuildID
	layout    *BinaryLayout
	debugFile string
	symbols   *SymbolTable
	functions *dwarfinfo.Index
}

// Loader reads ELF objects into Modules. Objects are cached by build ID, or by
// path, size and modification time when they have none.
type Loader struct {
	logger  log.Logger
	options LoaderOptions
	cache   *lru.Cache[string, *objectData]
}

func NewLoader(logger log.Logger, options LoaderOptions) (*Loader, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if options.CacheSize <= 0 {
		options.CacheSize = 64
	}
	if len(options.DebugDirs) == 0 {
		options.DebugDirs = []string{"/usr/lib/debug"}
	}
	cache, err := lru.New[string, *objectData](options.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Loader{
		logger:  logger,
		options: options,
		cache:   cache,
	}, nil
}

// LoadTarget builds a target from the files mapped into an inferior. Objects
// that fail to load are logged and skipped.
func (l *Loader) LoadTarget(files []core.FileMapping) *Target {
	t := NewTarget(l.logger, l.options.Metrics)
	byPath := lo.GroupBy(files, func(f core.FileMapping) string { return f.Path })
	paths := lo.Keys(byPath)
	slices.Sort(paths)
	for _, p := range paths {
		m, err := l.Load(p, byPath[p])
		if err != nil {
			level.Debug(l.logger).Log("msg", "skipping module", "path", p, "err", err)
			continue
		}
		t.AddModule(m)
	}
	return t
}

// Load reads the object at elfPath, mapped into the inferior at mappings.
// An executable with no mappings is assumed to be loaded where it was linked.
func (l *Loader) Load(elfPath string, mappings []core.FileMapping) (*Module, error) {
	fsPath := path.Join(l.options.Sysroot, elfPath)
	f, err := elf.Open(fsPath)
	if err != nil {
		l.options.Metrics.moduleError("open")
		return nil, err
	}
	defer f.Close()

	obj, err := l.object(f, elfPath, fsPath)
	if err != nil {
		return nil, err
	}
	bias, err := obj.layout.CalculateBias(mappings)
	if err != nil {
		l.options.Metrics.moduleError("base")
		return nil, fmt.Errorf("%s: %w", elfPath, err)
	}
	m := &Module{
		Path:      elfPath,
		DebugFile: obj.debugFile,
		BuildID:   obj.buildID,
		Layout:    obj.layout,
		Bias:      bias,
		Symbols:   obj.symbols,
	}
	if obj.functions != nil {
		m.Functions = obj.functions
	}
	level.Debug(l.logger).Log("msg", "loaded module", "path", elfPath, "bias", core.Address(bias), "symbols", obj.symbols.Size(), "debug_file", obj.debugFile)
	return m, nil
}

func (l *Loader) object(f *elf.File, elfPath, fsPath string) (*objectData, error) {
	buildID, err := readBuildID(f)
	if err != nil && !errors.Is(err, ErrNoBuildIDSection) {
		l.options.Metrics.moduleError("build_id")
		return nil, err
	}
	key, err := l.cacheKey(buildID, fsPath)
	if err != nil {
		return nil, err
	}
	if obj, ok := l.cache.Get(key); ok {
		return obj, nil
	}

	obj := &objectData{
		buildID: buildID,
		layout:  LayoutFromELF(f),
	}
	var debugElf *elf.File
	if debugFile := l.findDebugFile(buildID, f, elfPath); debugFile != "" {
		debugElf, err = elf.Open(path.Join(l.options.Sysroot, debugFile))
		if err != nil {
			level.Debug(l.logger).Log("msg", "failed to open debug file", "path", debugFile, "err", err)
		} else {
			defer debugElf.Close()
			obj.debugFile = debugFile
		}
	}

	candidates := []*elf.File{f}
	if debugElf != nil {
		candidates = []*elf.File{debugElf, f}
	}
	for _, c := range candidates {
		raw, err := readSymbols(c)
		if err == nil {
			obj.symbols = NewSymbolTable(raw, l.options.DemangleOptions)
			break
		}
		if !errors.Is(err, ErrNoSymbols) {
			l.options.Metrics.moduleError("symbols")
			return nil, err
		}
	}
	if obj.symbols == nil {
		level.Debug(l.logger).Log("msg", "no symbols", "path", elfPath)
		obj.symbols = NewSymbolTable(nil, nil)
	}
	if l.options.DWARF {
		for _, c := range candidates {
			if functions, err := dwarfinfo.Load(c); err == nil {
				obj.functions = functions
				break
			}
		}
	}
	l.cache.Add(key, obj)
	return obj, nil
}

func (l *Loader) cacheKey(buildID BuildID, fsPath string) (string, error) {
	if !buildID.Empty() {
		return buildID.Typ + ":" + buildID.ID, nil
	}
	fi, err := os.Stat(fsPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("stat:%s:%d:%d", fsPath, fi.Size(), fi.ModTime().UnixNano()), nil
}

func (l *Loader) findDebugFileWithBuildID(buildID BuildID) string {
	id := buildID.ID
	if len(id) < 3 || !buildID.GNU() {
		return ""
	}
	for _, dir := range l.options.DebugDirs {
		debugFile := fmt.Sprintf("%s/.build-id/%s/%s.debug", dir, id[:2], id[2:])
		if l.exists(debugFile) {
			return debugFile
		}
	}
	return ""
}

// findDebugFile searches separate debug information the way gdb does.
// https://sourceware.org/gdb/onlinedocs/gdb/Separate-Debug-Files.html
// For /usr/bin/ls with debug link ls.debug and build ID abcdef1234 these are tried in order:
//
//   - /usr/lib/debug/.build-id/ab/cdef1234.debug
//   - /usr/bin/ls.debug
//   - /usr/bin/.debug/ls.debug
//   - /usr/lib/debug/usr/bin/ls.debug
func (l *Loader) findDebugFile(buildID BuildID, f *elf.File, elfPath string) string {
	if debugFile := l.findDebugFileWithBuildID(buildID); debugFile != "" {
		return debugFile
	}
	return l.findDebugFileWithDebugLink(f, elfPath)
}

func (l *Loader) findDebugFileWithDebugLink(f *elf.File, elfPath string) string {
	section := f.Section(".gnu_debuglink")
	if section == nil {
		return ""
	}
	data, err := section.Data()
	if err != nil || len(data) < 6 {
		return ""
	}
	debugLink := cString(data)
	if debugLink == "" || strings.Contains(debugLink, "/") {
		return ""
	}
	dir := path.Dir(elfPath)
	candidates := []string{
		path.Join(dir, debugLink),
		path.Join(dir, ".debug", debugLink),
	}
	for _, d := range l.options.DebugDirs {
		candidates = append(candidates, path.Join(d, dir, debugLink))
	}
	for _, c := range candidates {
		if c == elfPath {
			continue
		}
		if l.exists(c) {
			return c
		}
	}
	return ""
}

func (l *Loader) exists(p string) bool {
	_, err := os.Stat(path.Join(l.options.Sysroot, p))
	return err == nil
}

func cString(bs []byte) string {
	i := bytes.IndexByte(bs, 0)
	if i == -1 {
		return ""
	}
	return string(bs[:i])
}
