//go:build !linux

package core

import "errors"

// Attach is only implemented on linux.
func Attach(pid int) (*Process, error) {
	return nil, errors.New("attaching to live processes is only supported on linux")
}
