// Package rewriter implements the payload-steered UDP packet transform that
// the kernel data plane (bpf/udp_router.c) performs on every received frame.
//
// This is a userland mirror of the in-kernel rewrite: the two are meant to
// read as direct translations of each other, including the "bounds-check
// immediately before every dereference" discipline the restricted in-kernel
// execution environment imposes. It exists so the transform can be unit
// tested and fuzzed without loading a BPF object, and so non-Linux or
// non-privileged test runs can still exercise the core correctness
// properties of the router.
package rewriter

import "encoding/binary"

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	minPayloadLen = 4

	etherTypeIPv4 = 0x0800
	ipProtocolUDP = 17
)

// linkLocalNet/linkLocalMask encode 169.254.0.0/16 (RFC 3927).
const (
	linkLocalNet  = 0xa9fe0000
	linkLocalMask = 0xffff0000
)

// Verdict is the three-way outcome of processing one frame.
type Verdict int

const (
	// Pass hands the frame to the host IP stack untouched.
	Pass Verdict = iota
	// TX retransmits the frame, rewritten, out the same interface.
	TX
	// Abort drops the frame: it failed a bounds check or is malformed.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "PASS"
	case TX:
		return "TX"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Config holds the three scalar configuration values the classifier and
// forwarder consult. Net/mask pairs are host-byte-order IPv4 values; the
// MAC is 6 raw bytes.
type Config struct {
	LocalNet, LocalMask     uint32
	BackendNet, BackendMask uint32
	GatewayMAC              [6]byte
}

// Counters mirrors the three per-CPU counter maps. Process increments these
// in place; callers own aggregation across goroutines/CPUs.
type Counters struct {
	Total          uint64
	ClientToServer uint64
	ServerToClient uint64
}

// Process classifies frame per §4.1 and, if it is forwardable, rewrites it
// in place. frame must be addressable for writes when the verdict is TX;
// Pass and Abort never mutate frame.
func Process(frame []byte, cfg Config, counters *Counters) Verdict {
	counters.Total++

	end := len(frame)
	if ethHeaderLen > end {
		return Abort
	}

	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 {
		return Pass
	}

	ipStart := ethHeaderLen
	if ipStart+ipv4HeaderLen > end {
		return Abort
	}

	if frame[ipStart+9] != ipProtocolUDP {
		return Pass
	}

	srcIP := binary.BigEndian.Uint32(frame[ipStart+12 : ipStart+16])
	if srcIP&linkLocalMask == linkLocalNet {
		return Pass
	}
	if srcIP&cfg.LocalMask == cfg.LocalNet {
		return Pass
	}

	udpStart := ipStart + ipv4HeaderLen
	if udpStart+udpHeaderLen > end {
		return Abort
	}

	payloadStart := udpStart + udpHeaderLen
	if payloadStart+minPayloadLen > end {
		return Abort
	}

	return forward(frame, cfg, counters, srcIP, ipStart, udpStart, payloadStart)
}

// forward performs the address-substitution transform of §4.1: the packet's
// destination becomes the address carried in the first four payload bytes,
// its source becomes the router's own address as seen by the sender, and
// the payload word is rewritten to carry the original sender's address —
// making the transform its own inverse when applied to a reply.
func forward(frame []byte, cfg Config, counters *Counters, srcIP uint32, ipStart, udpStart, payloadStart int) Verdict {
	R := binary.BigEndian.Uint32(frame[ipStart+16 : ipStart+20]) // router, as seen by sender
	S := srcIP                                                   // sender
	T := binary.BigEndian.Uint32(frame[payloadStart : payloadStart+4]) // intended backend

	udpChecksum := binary.BigEndian.Uint16(frame[udpStart+6 : udpStart+8])
	udpChecksum = updateChecksum32(udpChecksum, R, T) // ip.dst: R -> T
	udpChecksum = updateChecksum32(udpChecksum, S, R) // ip.src: S -> R
	udpChecksum = updateChecksum32(udpChecksum, T, S) // P0:     T -> S

	binary.BigEndian.PutUint32(frame[ipStart+16:ipStart+20], T)
	binary.BigEndian.PutUint32(frame[ipStart+12:ipStart+16], R)
	binary.BigEndian.PutUint32(frame[payloadStart:payloadStart+4], S)
	binary.BigEndian.PutUint16(frame[udpStart+6:udpStart+8], udpChecksum)

	binary.BigEndian.PutUint16(frame[ipStart+10:ipStart+12], 0)
	ipChecksum := ipv4HeaderChecksum(frame[ipStart : ipStart+ipv4HeaderLen])
	binary.BigEndian.PutUint16(frame[ipStart+10:ipStart+12], ipChecksum)

	var oldDstMAC [6]byte
	copy(oldDstMAC[:], frame[0:6])
	copy(frame[6:12], oldDstMAC[:])
	copy(frame[0:6], cfg.GatewayMAC[:])

	if srcIP&cfg.BackendMask == cfg.BackendNet {
		counters.ServerToClient++
	} else {
		counters.ClientToServer++
	}

	return TX
}
