package hostinfo

import (
	"net"
	"os"
)

// Hostname returns the identity PAM360 resources are keyed on. It must be
// stable across runs; the create-or-resolve logic depends on it.
func Hostname() (string, error) {
	return os.Hostname()
}

// OutboundIP returns the source address the host would use for external
// traffic, discovered by opening a UDP socket (no packets are sent). The
// value is informational only, so failures fall back to the loopback
// address rather than erroring.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
