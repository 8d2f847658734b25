// Package daemon wires the wire codec, the neighbor and distance tables, the
// broadcast socket, and the reactor into a single value with a clean
// Run/Stop lifecycle, shared by reference with every task the reactor runs.
package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/dragmakex/dv-routing/internal/distance"
	"github.com/dragmakex/dv-routing/internal/neighbor"
	"github.com/dragmakex/dv-routing/internal/reactor"
	"github.com/dragmakex/dv-routing/internal/transport/udp"
)

// ListenPort is the fixed UDP port the daemon binds and broadcasts on.
// Not runtime-configurable.
const ListenPort = "5555"

// Daemon owns every piece of process-wide state: the socket, the two
// tables, and the reactor that drives them.
type Daemon struct {
	MyIP string

	Neighbors *neighbor.Table
	Routes    *distance.Table

	socket  *udp.Socket
	reactor *reactor.Reactor
	log     zerolog.Logger
}

// New binds the broadcast socket and builds the tables and reactor for
// myIP. A bind failure here is startup-fatal.
func New(myIP string, log zerolog.Logger) (*Daemon, error) {
	socket, err := udp.Bind("0.0.0.0:" + ListenPort)
	if err != nil {
		return nil, xerrors.Errorf("daemon: bind socket: %w", err)
	}

	neighbors := neighbor.New(myIP)
	routes := distance.New(myIP)

	d := &Daemon{
		MyIP:      myIP,
		Neighbors: neighbors,
		Routes:    routes,
		socket:    socket,
		log:       log,
	}
	d.reactor = reactor.New(socket, neighbors, routes, log)

	return d, nil
}

// Run blocks running the reactor until ctx is cancelled or Stop is called,
// returning the first error either of its two tasks produced.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Str("my_ip", d.MyIP).Str("port", ListenPort).Msg("daemon starting")
	err := d.reactor.Run(ctx)
	d.log.Info().Msg("daemon stopped")
	return err
}

// Stop signals the reactor to shut down and closes the socket. Safe to call
// once Run has returned or is about to.
func (d *Daemon) Stop() {
	d.reactor.Stop()
}
