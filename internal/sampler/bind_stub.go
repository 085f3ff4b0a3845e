//go:build !linux

package sampler

import (
	"errors"
	"syscall"
)

func deviceBindingSupported() bool {
	return false
}

func bindToDevice(device string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return errors.New("device binding not supported")
	}
}
