// Package port finds a TCP port the dev server can bind on every address family.
package port

import (
	"net"
	"strconv"
)

// PickFree scans [startingAt, startingAt+tries] and returns the first port that
// binds on both the IPv6 and IPv4 unspecified addresses at the same time.
// When none does it asks the OS for an ephemeral port, and if even that fails
// it returns startingAt unchanged.
func PickFree(startingAt, tries uint16) uint16 {
	last := int(startingAt) + int(tries)
	if last > 65535 {
		last = 65535
	}
	for p := int(startingAt); p <= last; p++ {
		if IsFree(uint16(p)) {
			return uint16(p)
		}
	}
	if p, ok := askFree(); ok {
		return p
	}
	return startingAt
}

// IsFree reports whether port can be bound on [::] and 0.0.0.0 simultaneously.
func IsFree(port uint16) bool {
	v6, err := net.Listen("tcp6", net.JoinHostPort("::", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	defer v6.Close()

	v4, err := net.Listen("tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	v4.Close()
	return true
}

func askFree() (uint16, bool) {
	if p, ok := bind("tcp6", "[::]:0"); ok {
		return p, true
	}
	return bind("tcp4", "0.0.0.0:0")
}

func bind(network, address string) (uint16, bool) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return 0, false
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, false
	}
	return uint16(addr.Port), true
}
