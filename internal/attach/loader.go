package attach

import (
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/xdp-tools/udprouter/internal/xdpmaps"
)

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -Wall -Werror -target bpf" udprouter ../../bpf/udp_router.c -- -I/usr/include

// programSection is the name the compiled object's XDP entry point has in
// the loaded collection. cilium/ebpf keys programs by function name, so this
// is udp_router, the function declared under SEC("xdp") in udp_router.c.
const programSection = "udp_router"

// Loaded bundles everything produced by loading and attaching the compiled
// object: the live kernel attachment, the map handles the control actor
// drives, and the underlying collection, kept open until Close.
type Loaded struct {
	Attachment *Attachment
	Maps       *xdpmaps.EBPFMaps
	coll       *ebpf.Collection
}

// Load reads the compiled object at objPath, loads it into the kernel and
// attaches it to ifaceName per policy. On any failure after partial
// progress, everything already opened is closed before returning.
func Load(logger *slog.Logger, objPath, ifaceName string, policy Policy) (*Loaded, error) {
	// Best-effort: a failure is logged at debug level and loading continues.
	if err := rlimit.RemoveMemlock(); err != nil {
		logger.Debug("could not remove memlock rlimit", slog.String("error", err.Error()))
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("attach: load collection spec %q: %w", objPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("attach: create collection: %w", err)
	}

	maps, err := xdpmaps.NewEBPFMaps(coll)
	if err != nil {
		coll.Close()
		return nil, err
	}

	prog, ok := coll.Programs[programSection]
	if !ok {
		maps.Close()
		coll.Close()
		return nil, fmt.Errorf("attach: program %q not present in collection", programSection)
	}

	attachment, err := Attach(logger, prog, ifaceName, policy)
	if err != nil {
		maps.Close()
		coll.Close()
		return nil, err
	}

	return &Loaded{Attachment: attachment, Maps: maps, coll: coll}, nil
}

// Close detaches the program and releases the collection and map handles,
// in the reverse order they were acquired.
func (l *Loaded) Close() error {
	var firstErr error
	if err := l.Attachment.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.Maps.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	l.coll.Close()
	return firstErr
}
