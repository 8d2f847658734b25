//go:build !unix

package udp

import (
	"net"
	"runtime"

	"golang.org/x/xerrors"
)

// enableBroadcast has no portable implementation outside the unix socket
// option set; this daemon targets Linux broadcast-domain deployments and is
// not expected to run elsewhere.
func enableBroadcast(conn *net.UDPConn) error {
	return xerrors.Errorf("udp: SO_BROADCAST is not supported on %s", runtime.GOOS)
}
