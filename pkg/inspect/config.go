package inspect

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/grafana/vtinspect/pkg/symtab"
)

// Config selects the inferior to inspect and how its modules are read.
type Config struct {
	// Exactly one of CoreFile, PID or Executable names the inferior. With a
	// core file, Executable adds a module the core does not list.
	CoreFile   string `yaml:"core_file"`
	PID        int    `yaml:"pid"`
	Executable string `yaml:"executable"`

	Sysroot   string                 `yaml:"sysroot"`
	DebugDirs flagext.StringSliceCSV `yaml:"debug_dirs"`
	Demangle  string                 `yaml:"demangle"`
	DWARF     bool                   `yaml:"dwarf"`

	MaxEntries uint `yaml:"max_entries"`
	CacheSize  int  `yaml:"module_cache_size"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.CoreFile, "core", "", "ELF core file to inspect.")
	f.IntVar(&cfg.PID, "pid", 0, "Live process to inspect.")
	f.StringVar(&cfg.Executable, "executable", "", "Executable to inspect before it runs, or to add to a core file.")
	f.StringVar(&cfg.Sysroot, "sysroot", "", "Directory the inferior's file paths are relative to.")
	cfg.DebugDirs = flagext.StringSliceCSV{"/usr/lib/debug"}
	f.Var(&cfg.DebugDirs, "debug-dirs", "Comma separated directories searched for separate debug files.")
	f.StringVar(&cfg.Demangle, "demangle", "simplified", fmt.Sprintf("C++ demangling style for display names, one of %v.", symtab.DemangleStyles))
	f.BoolVar(&cfg.DWARF, "dwarf", true, "Read DWARF to show the type and location of virtual functions.")
	f.UintVar(&cfg.MaxEntries, "max-entries", 256, "Maximum number of vtable entries shown.")
	f.IntVar(&cfg.CacheSize, "module-cache-size", 64, "Number of parsed objects kept in memory.")
}

func (cfg *Config) Validate() error {
	sources := lo.Count([]bool{cfg.CoreFile != "", cfg.PID != 0, cfg.Executable != "" && cfg.CoreFile == ""}, true)
	switch {
	case sources == 0:
		return errors.New("one of core file, pid or executable is required")
	case sources > 1:
		return errors.New("core file, pid and executable are mutually exclusive")
	case cfg.PID < 0:
		return fmt.Errorf("invalid pid %d", cfg.PID)
	}
	if !lo.Contains(symtab.DemangleStyles, cfg.Demangle) {
		return fmt.Errorf("unknown demangle style %q, expected one of %v", cfg.Demangle, symtab.DemangleStyles)
	}
	if cfg.MaxEntries == 0 {
		return errors.New("max entries must be positive")
	}
	if cfg.CacheSize <= 0 {
		return errors.New("module cache size must be positive")
	}
	return nil
}

// LoadConfig overlays the YAML file at path onto cfg. Unknown fields are errors.
// With expandEnv, ${var} references are replaced by environment variables first.
func LoadConfig(path string, expandEnv bool, cfg *Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if expandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return errors.Wrapf(err, "expand config %s", path)
		}
		buf = []byte(s)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}
