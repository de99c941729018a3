//go:build !windows

package sender

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ConfigurePacketConn tunes a host's UDP media socket (spec §4.8: the data
// port is a single shared socket multiplexing every session's fragments, so
// SO_REUSEPORT lets a restarted process rebind without waiting out TIME_WAIT,
// and IPV6_V6ONLY is forced off so a dual-stack listener still accepts IPv4
// clients on the same socket). conn must wrap a *net.UDPConn, the only type
// net.ListenPacket("udp", ...) returns.
func ConfigurePacketConn(conn net.PacketConn) error {
	sc, ok := conn.(syscallConner)
	if !ok {
		return fmt.Errorf("sender: %T does not support raw socket control", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("sender: syscall conn: %w", err)
	}

	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			// Not every listener binds a dual-stack address; this option
			// legitimately fails for an IPv4-only socket, so it is not
			// surfaced as a hard error.
			return
		}
	}); err != nil {
		return fmt.Errorf("sender: control raw conn: %w", err)
	}
	return sockErr
}

// syscallConner narrows net.PacketConn to the subset exposing the raw file
// descriptor, which *net.UDPConn implements.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}
