package transport

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// unixPrefix forces an address to be treated as a socket path.
const unixPrefix = "unix:"

// ParseAddress picks the network for address. "host:port" is TCP; a
// filesystem path (anything with a path separator, a ".sock" suffix, or an
// explicit "unix:" prefix) is a Unix domain socket.
func ParseAddress(address string) (network, addr string) {
	switch {
	case strings.HasPrefix(address, unixPrefix):
		return "unix", strings.TrimPrefix(address, unixPrefix)
	case strings.ContainsAny(address, `/\`), strings.HasSuffix(address, ".sock"):
		return "unix", address
	default:
		return "tcp", address
	}
}

// Listen binds address. A stale socket file left behind by a previous process
// is removed first.
func Listen(address string) (net.Listener, error) {
	network, addr := ParseAddress(address)
	if network == "unix" {
		if err := RemoveSocket(addr); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, addr)
	}
	return ln, nil
}

// Dial connects to address.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	network, addr := ParseAddress(address)
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, addr)
	}
	return conn, nil
}

// RemoveSocket deletes a socket file if it exists.
func RemoveSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return errors.Wrap(err, "remove stale socket")
		}
	}
	return nil
}
