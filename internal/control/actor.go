// Package control implements the single-consumer Control Actor that owns
// the only writable handle to the router's shared-memory maps. All map
// mutation is funneled through one goroutine draining a bounded channel;
// producers talk to it only through a Handle.
package control

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/xdp-tools/udprouter/internal/xdpmaps"
)

// chanCapacity is the bounded channel size. The control-plane rate is
// human-scale, so 8 is sufficient (§4.3).
const chanCapacity = 8

// ErrActorStopped is returned to producers whose message could not be
// delivered because the actor's channel has been closed.
var ErrActorStopped = errors.New("control actor stopped")

// RouterStatistics is the GetStats reply snapshot.
type RouterStatistics struct {
	TotalPackets          uint64
	ClientToServerPackets uint64
	ServerToClientPackets uint64
}

type messageKind int

const (
	msgGetStats messageKind = iota
	msgSetLocalNetAndMask
	msgSetBackendNetAndMask
	msgSetGatewayMacAddress
)

type message struct {
	kind  messageKind
	net   uint32
	mask  uint32
	mac   uint64
	reply chan<- actorReply
}

type actorReply struct {
	stats RouterStatistics
	err   error
}

// Actor is the single consumer of Maps mutations. Its zero value is not
// usable; construct with New.
type Actor struct {
	maps   xdpmaps.Maps
	logger *slog.Logger
	ch     chan message
	done   chan struct{}
}

// New creates an Actor over maps and starts its consume loop in a new
// goroutine. Callers must eventually call Handle.Close (which closes the
// channel) to let the goroutine exit.
func New(maps xdpmaps.Maps, logger *slog.Logger) (*Actor, *Handle) {
	a := &Actor{
		maps:   maps,
		logger: logger.With(slog.String("component", "control-actor")),
		ch:     make(chan message, chanCapacity),
		done:   make(chan struct{}),
	}
	go a.run()
	return a, &Handle{ch: a.ch}
}

// run is the actor's receive loop: it dequeues messages in order and is
// the only goroutine that ever calls into a.maps, giving free serialization
// of all map I/O (§9's "owner task + bounded channel" shape).
func (a *Actor) run() {
	defer close(a.done)

	for msg := range a.ch {
		switch msg.kind {
		case msgGetStats:
			stats, err := a.getStats()
			if msg.reply != nil {
				msg.reply <- actorReply{stats: stats, err: err}
			}
			if err != nil {
				a.fatal("read stats", err)
			}

		case msgSetLocalNetAndMask:
			if err := a.maps.WriteConfig(xdpmaps.SlotLocalNetAndMask, xdpmaps.PackNetAndMask(msg.net, msg.mask)); err != nil {
				a.fatal("write local net/mask", err)
			}

		case msgSetBackendNetAndMask:
			if err := a.maps.WriteConfig(xdpmaps.SlotBackendNetAndMask, xdpmaps.PackNetAndMask(msg.net, msg.mask)); err != nil {
				a.fatal("write backend net/mask", err)
			}

		case msgSetGatewayMacAddress:
			if err := a.maps.WriteConfig(xdpmaps.SlotGatewayMacAddress, msg.mac); err != nil {
				a.fatal("write gateway mac", err)
			}
		}
	}
}

// getStats reads all three counters and sums each across CPUs. There is no
// guarantee the three reads are sampled at a single instant (§4.3).
func (a *Actor) getStats() (RouterStatistics, error) {
	total, err := a.maps.ReadCounterSum(xdpmaps.SlotTotalPackets)
	if err != nil {
		return RouterStatistics{}, fmt.Errorf("read total_packets: %w", err)
	}
	c2s, err := a.maps.ReadCounterSum(xdpmaps.SlotClientToServerPackets)
	if err != nil {
		return RouterStatistics{}, fmt.Errorf("read client_to_server_packets: %w", err)
	}
	s2c, err := a.maps.ReadCounterSum(xdpmaps.SlotServerToClientPackets)
	if err != nil {
		return RouterStatistics{}, fmt.Errorf("read server_to_client_packets: %w", err)
	}
	return RouterStatistics{TotalPackets: total, ClientToServerPackets: c2s, ServerToClientPackets: s2c}, nil
}

// fatal treats a map read/write failure as fatal: a map missing or
// miswired at startup indicates a deployment bug, not a runtime condition
// (§7). The actor logs with full context and panics; the consume loop runs
// in its own goroutine with no recover, so the panic terminates the process.
func (a *Actor) fatal(op string, err error) {
	a.logger.Error("fatal map I/O failure, actor exiting",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	panic(fmt.Sprintf("control actor: %s: %v", op, err))
}

// Wait blocks until the actor's goroutine has exited (the channel was
// closed and drained).
func (a *Actor) Wait() {
	<-a.done
}
