//go:build linux

package symtab

import (
	"debug/elf"
	"os"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vtinspect/pkg/debug/core"
	"github.com/grafana/vtinspect/pkg/util"
)

//go:noinline
func probeSymbol() int {
	return 42
}

// unstrippedSelf returns the test binary, skipping the test when it was linked
// without a symbol table, as go test does by default.
func unstrippedSelf(t *testing.T) (string, elf.Type) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := elf.Open(exe)
	require.NoError(t, err)
	defer f.Close()
	if f.Section(".symtab") == nil {
		t.Skip("test binary has no .symtab, build it with go test -c")
	}
	return exe, f.Type
}

func TestLoaderSelf(t *testing.T) {
	exe, typ := unstrippedSelf(t)
	if typ != elf.ET_EXEC {
		t.Skip("position independent test binary")
	}

	l, err := NewLoader(util.TestLogger(t), LoaderOptions{DWARF: true, DemangleOptions: DemangleSimplified})
	require.NoError(t, err)

	m, err := l.Load(exe, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), m.Bias)
	require.NotZero(t, m.Symbols.Size())

	pc := uint64(runtime.FuncForPC(reflect.ValueOf(probeSymbol).Pointer()).Entry())
	s := m.Symbols.Lookup(pc)
	require.NotNil(t, s)
	require.True(t, strings.HasSuffix(s.Name, ".probeSymbol"), s.Name)
	require.Equal(t, SymbolFunc, s.Kind)

	again, err := l.Load(exe, nil)
	require.NoError(t, err)
	require.Same(t, m.Symbols, again.Symbols)
}

func TestLoaderLiveTarget(t *testing.T) {
	unstrippedSelf(t)
	p, err := core.Attach(os.Getpid())
	if err != nil {
		t.Skipf("cannot attach to self: %v", err)
	}
	defer p.Close()

	l, err := NewLoader(util.TestLogger(t), LoaderOptions{})
	require.NoError(t, err)
	target := l.LoadTarget(p.Files())
	require.NotEmpty(t, target.Modules())

	pc := core.Address(reflect.ValueOf(probeSymbol).Pointer())
	a := target.ResolveLoadAddress(pc)
	require.True(t, a.IsValid())
	require.NotNil(t, a.Symbol)
	require.True(t, strings.HasSuffix(a.Symbol.Name, ".probeSymbol"), a.Symbol.Name)
	require.Equal(t, pc, a.SymbolLoadAddress())
}

func TestLoaderMissingFile(t *testing.T) {
	l, err := NewLoader(nil, LoaderOptions{Sysroot: t.TempDir()})
	require.NoError(t, err)
	_, err = l.Load("/bin/does-not-exist", nil)
	require.Error(t, err)
}
