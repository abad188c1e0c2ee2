//go:build linux

package core

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// liveMemory reads a running process through /proc/<pid>/mem.
type liveMemory struct {
	f *os.File
}

func (l *liveMemory) readAt(p []byte, a Address) error {
	n, err := unix.Pread(int(l.f.Fd()), p, int64(a))
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Attach opens the memory of the running process pid for reading.
// The caller needs ptrace access to pid (same user, or CAP_SYS_PTRACE).
func Attach(pid int) (*Process, error) {
	exe, err := elf.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, errors.Wrapf(err, "open executable of %d", pid)
	}
	class, order, machine := exe.Class, exe.ByteOrder, exe.Machine
	_ = exe.Close()

	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, errors.Wrapf(err, "open memory of %d", pid)
	}
	files, err := procFiles(pid)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Process{
		mem:       &liveMemory{f: f},
		byteOrder: order,
		ptrSize:   ptrSizeOf(class),
		arch:      archOf(class, machine),
		files:     files,
		closers:   []io.Closer{f},
		exited: func() bool {
			return unix.Kill(pid, 0) == unix.ESRCH
		},
	}, nil
}

func procFiles(pid int) ([]FileMapping, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "open /proc/%d", pid)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, errors.Wrapf(err, "read /proc/%d/maps", pid)
	}
	var res []FileMapping
	for _, m := range maps {
		if m.Pathname == "" || strings.HasPrefix(m.Pathname, "[") {
			continue
		}
		res = append(res, FileMapping{
			Start:  Address(m.StartAddr),
			End:    Address(m.EndAddr),
			Offset: uint64(m.Offset),
			Path:   m.Pathname,
		})
	}
	return res, nil
}
