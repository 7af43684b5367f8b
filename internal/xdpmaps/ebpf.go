package xdpmaps

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// EBPFMaps implements Maps over real *ebpf.Map handles taken from a loaded
// *ebpf.Collection. Config maps are plain ebpf.Array; counter maps are
// ebpf.PerCPUArray, matching the two map flavors of §4.2.
type EBPFMaps struct {
	config   [3]*ebpf.Map
	counters [3]*ebpf.Map
}

// NewEBPFMaps resolves the six named maps out of coll. Returns an error
// naming the first missing map, since a map missing at startup indicates a
// deployment bug per §7's error handling design.
func NewEBPFMaps(coll *ebpf.Collection) (*EBPFMaps, error) {
	configNames := [3]string{MapLocalNetAndMask, MapBackendNetAndMask, MapGatewayMacAddress}
	counterNames := [3]string{MapTotalPackets, MapClientToServerPkts, MapServerToClientPkts}

	em := &EBPFMaps{}
	for i, name := range configNames {
		m, ok := coll.Maps[name]
		if !ok {
			return nil, fmt.Errorf("xdpmaps: config map %q not present in collection", name)
		}
		em.config[i] = m
	}
	for i, name := range counterNames {
		m, ok := coll.Maps[name]
		if !ok {
			return nil, fmt.Errorf("xdpmaps: counter map %q not present in collection", name)
		}
		em.counters[i] = m
	}
	return em, nil
}

func (em *EBPFMaps) ReadConfig(slot ConfigSlot) (uint64, error) {
	var value uint64
	if err := em.config[slot].Lookup(Slot, &value); err != nil {
		return 0, fmt.Errorf("xdpmaps: read config slot %d: %w", slot, err)
	}
	return value, nil
}

func (em *EBPFMaps) WriteConfig(slot ConfigSlot, value uint64) error {
	if err := em.config[slot].Update(Slot, value, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("xdpmaps: write config slot %d: %w", slot, err)
	}
	return nil
}

func (em *EBPFMaps) ReadCounterSum(slot CounterSlot) (uint64, error) {
	var perCPU []uint64
	if err := em.counters[slot].Lookup(Slot, &perCPU); err != nil {
		return 0, fmt.Errorf("xdpmaps: read counter slot %d: %w", slot, err)
	}
	var sum uint64
	for _, v := range perCPU {
		sum += v
	}
	return sum, nil
}

func (em *EBPFMaps) Close() error {
	var firstErr error
	for _, m := range em.config {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("xdpmaps: close config map: %w", err)
		}
	}
	for _, m := range em.counters {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("xdpmaps: close counter map: %w", err)
		}
	}
	return firstErr
}
