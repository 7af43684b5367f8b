package control

import (
	"context"
	"fmt"
)

// Handle is the asynchronous producer-facing interface to an Actor.
// Methods may be called from any goroutine concurrently; the actor
// serializes all operations in receive order. Handle is safe to share.
type Handle struct {
	ch chan<- message
}

// GetStats requests a stats snapshot. It suspends at send if the actor's
// queue is full, and at receive waiting for the actor's reply one-shot.
// There is no timeout here; callers layer their own via ctx (§5).
func (h *Handle) GetStats(ctx context.Context) (RouterStatistics, error) {
	reply := make(chan actorReply, 1)
	msg := message{kind: msgGetStats, reply: reply}

	if err := h.send(ctx, msg); err != nil {
		return RouterStatistics{}, err
	}

	select {
	case <-ctx.Done():
		return RouterStatistics{}, fmt.Errorf("get stats: %w", ctx.Err())
	case r := <-reply:
		return r.stats, r.err
	}
}

// SetLocalNetAndMask requests the actor overwrite the LocalNetAndMask slot.
// net and mask are host-byte-order IPv4 values.
func (h *Handle) SetLocalNetAndMask(ctx context.Context, net, mask uint32) error {
	return h.send(ctx, message{kind: msgSetLocalNetAndMask, net: net, mask: mask})
}

// SetBackendNetAndMask requests the actor overwrite the BackendNetAndMask slot.
func (h *Handle) SetBackendNetAndMask(ctx context.Context, net, mask uint32) error {
	return h.send(ctx, message{kind: msgSetBackendNetAndMask, net: net, mask: mask})
}

// SetGatewayMacAddress requests the actor overwrite the GatewayMacAddress
// slot. mac is the 48-bit address right-aligned in the low 6 bytes.
func (h *Handle) SetGatewayMacAddress(ctx context.Context, mac uint64) error {
	return h.send(ctx, message{kind: msgSetGatewayMacAddress, mac: mac})
}

// Close shuts down the actor by closing its message channel. Callers must
// stop issuing requests through this Handle before calling Close; use
// Actor.Wait to block until the consume loop has drained and exited.
func (h *Handle) Close() {
	close(h.ch)
}

// send enqueues msg, blocking until there is queue capacity or ctx is
// cancelled. Set messages carry no reply channel, so once send succeeds
// the actor has accepted the request for processing. If the channel has
// been closed, send returns ErrActorStopped.
func (h *Handle) send(ctx context.Context, msg message) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrActorStopped
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("control handle send: %w", ctxErr)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("control handle send: %w", ctx.Err())
	case h.ch <- msg:
		return nil
	}
}
