// Package reactor runs the two concurrent tasks that drive the protocol: a
// periodic task that beacons, sweeps stale neighbors, and conditionally
// broadcasts the distance vector, and a receive task that blocks on the
// shared socket. Both share the neighbor and route tables.
package reactor

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/dragmakex/dv-routing/internal/distance"
	"github.com/dragmakex/dv-routing/internal/neighbor"
	"github.com/dragmakex/dv-routing/internal/transport/udp"
	"github.com/dragmakex/dv-routing/internal/wire"
)

const (
	// HelloInterval is the periodic task's firing period.
	HelloInterval = 5 * time.Second
	// pollGranularity is how often the periodic task re-checks for shutdown
	// while waiting out HelloInterval.
	pollGranularity = 1 * time.Second
	// BroadcastAddr is the IPv4 limited-broadcast destination.
	BroadcastAddr = "255.255.255.255:5555"
	// recvPollTimeout bounds a single Recv call so the receive loop can
	// notice shutdown promptly without busy-looping.
	recvPollTimeout = time.Second
	// recvBackoff is the pause after a transient receive error.
	recvBackoff = 100 * time.Millisecond
)

// Reactor owns the shared socket and drives the neighbor and route tables
// through it.
type Reactor struct {
	socket    *udp.Socket
	neighbors *neighbor.Table
	routes    *distance.Table
	log       zerolog.Logger

	helloInterval   time.Duration
	pollGranularity time.Duration
	broadcastAddr   string

	running atomic.Bool
}

// New builds a Reactor over an already-bound broadcast socket.
func New(socket *udp.Socket, neighbors *neighbor.Table, routes *distance.Table, log zerolog.Logger) *Reactor {
	return &Reactor{
		socket:          socket,
		neighbors:       neighbors,
		routes:          routes,
		log:             log,
		helloInterval:   HelloInterval,
		pollGranularity: pollGranularity,
		broadcastAddr:   BroadcastAddr,
	}
}

// WithIntervals overrides the default period and poll granularity, for
// tests that cannot afford to wait out the real 5s/1s constants.
func (r *Reactor) WithIntervals(hello, poll time.Duration) *Reactor {
	r.helloInterval = hello
	r.pollGranularity = poll
	return r
}

// WithBroadcastAddr overrides the destination HELLO/DV datagrams are sent
// to. Production always uses BroadcastAddr; tests that cannot rely on the
// host actually delivering IPv4 limited-broadcast traffic point this at a
// concrete loopback peer instead.
func (r *Reactor) WithBroadcastAddr(addr string) *Reactor {
	r.broadcastAddr = addr
	return r
}

// Run starts the periodic and receive tasks and blocks until both have
// exited, returning the first non-nil error either produced.
func (r *Reactor) Run(ctx context.Context) error {
	r.running.Store(true)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.periodicLoop(ctx) })
	group.Go(func() error { return r.receiveLoop(ctx) })

	return group.Wait()
}

// Stop flips the running flag and closes the socket. Closing the socket
// while a receive is in flight is the sanctioned way to unblock it.
func (r *Reactor) Stop() {
	r.running.Store(false)
	if err := r.socket.Close(); err != nil {
		r.log.Debug().Err(err).Msg("socket close during shutdown")
	}
}

// periodicLoop implements the sender task: fire immediately, then wait out
// HelloInterval in pollGranularity steps so shutdown is noticed within 1s.
func (r *Reactor) periodicLoop(ctx context.Context) error {
	for {
		if !r.running.Load() {
			return nil
		}

		r.tick()

		if !r.sleepInterruptible(ctx, r.helloInterval) {
			return nil
		}
	}
}

// sleepInterruptible waits out d in pollGranularity increments, returning
// false as soon as shutdown is observed.
func (r *Reactor) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(r.pollGranularity)
	defer ticker.Stop()

	for remaining := d; remaining > 0; remaining -= r.pollGranularity {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !r.running.Load() {
				return false
			}
		}
	}
	return true
}

// tick performs one period's work: HELLO, stale sweep, route GC, and a
// conditional DV broadcast.
func (r *Reactor) tick() {
	hello := r.neighbors.BuildHello()
	if err := r.socket.Send(r.broadcastAddr, []byte(hello)); err != nil {
		r.log.Error().Err(err).Msg("failed to send HELLO")
	}

	for _, ip := range r.neighbors.RemoveStale() {
		r.log.Info().Str("neighbor", ip).Msg("neighbor link expired")
		if r.routes.DropRoutesVia(ip) {
			r.log.Info().Str("neighbor", ip).Msg("dropped routes via expired neighbor")
		}
	}

	if !r.routes.Dirty() {
		return
	}

	dv := r.routes.GetDistanceVector()
	if err := r.socket.Send(r.broadcastAddr, []byte(dv)); err != nil {
		// Do not clear the dirty flag: the DV will be retried next tick.
		r.log.Error().Err(err).Msg("failed to broadcast DV")
		return
	}
	r.routes.DVSent()
	r.log.Debug().Str("dv", dv).Msg("broadcast distance vector")
}

// receiveLoop implements the receive task: blocking reads, dispatched by
// message kind, with transient errors backed off and permanent socket
// failure propagated.
func (r *Reactor) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := r.socket.Recv(recvPollTimeout)
		if err != nil {
			if errors.Is(err, udp.ErrTimeout) {
				continue
			}
			if !r.running.Load() {
				return nil // socket closed by Stop(): clean shutdown
			}
			if errors.Is(err, net.ErrClosed) {
				return xerrors.Errorf("udp: socket closed unexpectedly: %w", err)
			}

			r.log.Warn().Err(err).Msg("transient receive error, retrying")
			time.Sleep(recvBackoff)
			continue
		}

		r.dispatch(payload)
	}
}

func (r *Reactor) dispatch(payload []byte) {
	msg, err := wire.Decode(payload)
	if err != nil {
		r.log.Debug().Err(err).Msg("dropped malformed datagram")
		return
	}

	switch m := msg.(type) {
	case wire.Hello:
		r.neighbors.ProcessHello(m.SenderIP, m.Seq)
	case wire.DV:
		r.routes.ProcessDecoded(m)
	}
}
