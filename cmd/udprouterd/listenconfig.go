package main

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortListenConfig returns a net.ListenConfig whose sockets have
// SO_REUSEADDR and SO_REUSEPORT set before bind, so the control-plane
// listener can be rebound immediately across a restart (and, in principle,
// shared across multiple daemon instances for load distribution) without
// waiting out TIME_WAIT.
func reusePortListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReusePortOpts(c)
		},
	}
}

// setReusePortOpts applies SO_REUSEADDR and SO_REUSEPORT to the raw socket
// backing a not-yet-bound listener.
func setReusePortOpts(c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		sockErr = setReusePortSockOpts(intFD)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

func setReusePortSockOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("set SO_REUSEPORT: %w", err)
	}
	return nil
}
