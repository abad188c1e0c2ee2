package symtab

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// maxMiniDebugInfoSize bounds the decompressed .gnu_debugdata.
const maxMiniDebugInfoSize = 256 << 20

// readMiniDebugInfo reads the symbols of the xz compressed ELF object that
// some distributions embed in .gnu_debugdata of stripped binaries.
func readMiniDebugInfo(f *elf.File) ([]elf.Symbol, error) {
	section := f.Section(".gnu_debugdata")
	if section == nil {
		return nil, ErrNoSymbols
	}
	data, err := section.Data()
	if err != nil {
		return nil, err
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gnu_debugdata: %w", err)
	}
	var uncompressed bytes.Buffer
	if _, err := io.Copy(&uncompressed, io.LimitReader(r, maxMiniDebugInfoSize)); err != nil {
		return nil, fmt.Errorf("gnu_debugdata: %w", err)
	}
	mini, err := elf.NewFile(bytes.NewReader(uncompressed.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("gnu_debugdata: %w", err)
	}
	syms, err := mini.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, ErrNoSymbols
	}
	return syms, err
}
