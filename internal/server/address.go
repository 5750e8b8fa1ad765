package server

import (
	"net"
	"strconv"
	"strings"

	"github.com/jakobhellermann/wasm-server-runner/internal/port"
)

// listenAddress uses address verbatim when it names a port and otherwise
// appends the first free port from start.
func listenAddress(address string, start, tries uint16) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(int(port.PickFree(start, tries))))
}
