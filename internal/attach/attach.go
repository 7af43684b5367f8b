// Package attach loads the compiled packet-rewriter object and attaches it
// to a network interface, walking the HW -> DRV -> SKB attachment modes in
// order (§4.4).
package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// Mode names one XDP attachment mode.
type Mode int

const (
	ModeHW Mode = iota
	ModeDRV
	ModeSKB
)

func (m Mode) String() string {
	switch m {
	case ModeHW:
		return "hw"
	case ModeDRV:
		return "drv"
	case ModeSKB:
		return "skb"
	default:
		return "unknown"
	}
}

func (m Mode) flag() link.XDPAttachFlags {
	switch m {
	case ModeHW:
		return link.XDPOffloadMode
	case ModeDRV:
		return link.XDPDriverMode
	case ModeSKB:
		return link.XDPGenericMode
	default:
		return 0
	}
}

// Policy selects which modes are tried, and in what order, when attaching.
type Policy struct {
	// ForceHW, ForceDRV, ForceSKB each pin attachment to exactly that mode
	// and disable probing. At most one may be set; candidates rejects more.
	ForceHW, ForceDRV, ForceSKB bool
	// AllowSKB permits falling back to generic (SKB) mode when neither HW
	// nor DRV offload is available. When false, probing stops after DRV
	// fails and attachment is reported as failed.
	AllowSKB bool
}

// candidates returns the ordered list of modes Attach should try.
func (p Policy) candidates() ([]Mode, error) {
	forced := 0
	var only Mode
	if p.ForceHW {
		forced++
		only = ModeHW
	}
	if p.ForceDRV {
		forced++
		only = ModeDRV
	}
	if p.ForceSKB {
		forced++
		only = ModeSKB
	}
	if forced > 1 {
		return nil, errors.New("attach: at most one of ForceHW, ForceDRV, ForceSKB may be set")
	}
	if forced == 1 {
		return []Mode{only}, nil
	}

	modes := []Mode{ModeHW, ModeDRV}
	if p.AllowSKB {
		modes = append(modes, ModeSKB)
	}
	return modes, nil
}

// Attachment is a live XDP attachment. Close detaches the program.
type Attachment struct {
	link      link.Link
	Mode      Mode
	Interface string
}

// Close detaches the program from the interface.
func (a *Attachment) Close() error {
	if a.link == nil {
		return nil
	}
	if err := a.link.Close(); err != nil {
		return fmt.Errorf("attach: detach from %s: %w", a.Interface, err)
	}
	return nil
}

// Attach loads prog onto iface, trying each mode policy allows in order and
// returning the first that succeeds. Failures of earlier modes are expected
// on interfaces/drivers without offload support and are logged at debug
// level; the failure of the last mode tried (SKB, DRV when SKB is not
// allowed, or the single forced mode) is logged at warn. If no mode
// succeeds, every attempt's error is returned to the caller, joined.
func Attach(logger *slog.Logger, prog *ebpf.Program, ifaceName string, policy Policy) (*Attachment, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("attach: lookup interface %q: %w", ifaceName, err)
	}

	modes, err := policy.candidates()
	if err != nil {
		return nil, err
	}

	var errs []error
	for i, mode := range modes {
		l, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: iface.Index,
			Flags:     mode.flag(),
		})
		if err == nil {
			logger.Info("attached XDP program",
				slog.String("interface", ifaceName),
				slog.String("mode", mode.String()),
			)
			return &Attachment{link: l, Mode: mode, Interface: ifaceName}, nil
		}

		last := i == len(modes)-1
		logLevel := slog.LevelDebug
		if last {
			logLevel = slog.LevelWarn
		}
		logger.Log(context.Background(), logLevel, "XDP attach attempt failed",
			slog.String("interface", ifaceName),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", mode, err))
	}

	return nil, fmt.Errorf("attach: no attachment mode succeeded on %s: %w", ifaceName, errors.Join(errs...))
}
