// udprouter-ping sends payload-steered probes through the router and
// reports round-trip latency percentiles (p50/p99/p99.9), computed from a
// sorted sample array rather than a histogram library (see DESIGN.md).
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"time"

	appversion "github.com/xdp-tools/udprouter/internal/version"
)

// defaultIterations is small enough for interactive CLI use; the original
// protocol's benchmark default of 10,000 is still reachable via -count.
const defaultIterations = 1000

func main() {
	os.Exit(run())
}

func run() int {
	routerAddr := flag.String("router", "", "router address to send probes to, host:port (required)")
	backendIP := flag.String("backend", "", "backend IPv4 address to encode as the probe's steering target (required)")
	count := flag.Int("count", defaultIterations, "number of round trips to measure")
	timeout := flag.Duration("timeout", time.Second, "per-probe round-trip timeout")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("udprouter-ping"))
		return 0
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *routerAddr == "" {
		logger.Error("-router is required")
		return 1
	}
	if *backendIP == "" {
		logger.Error("-backend is required")
		return 1
	}

	backend, err := encodeBackendAddress(*backendIP)
	if err != nil {
		logger.Error("invalid -backend address", slog.String("error", err.Error()))
		return 1
	}

	samples, err := measure(*routerAddr, backend, *count, *timeout)
	if err != nil {
		logger.Error("measurement failed", slog.String("error", err.Error()))
		return 1
	}

	report(samples)
	return 0
}

// encodeBackendAddress packs an IPv4 address into the 4-byte big-endian
// steering prefix the router expects as the first payload word.
func encodeBackendAddress(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("not an IP address: %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("not an IPv4 address: %q", s)
	}
	copy(out[:], v4)
	return out, nil
}

// measure sends count payload-steered probes to routerAddr and returns the
// observed round-trip latencies. A probe that times out or errors is
// skipped and does not contribute a sample.
func measure(routerAddr string, backend [4]byte, count int, timeout time.Duration) ([]time.Duration, error) {
	conn, err := net.Dial("udp", routerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", routerAddr, err)
	}
	defer conn.Close()

	payload := make([]byte, 4+8)
	copy(payload[:4], backend[:])

	reply := make([]byte, 4096)
	samples := make([]time.Duration, 0, count)

	for i := 0; i < count; i++ {
		binary.BigEndian.PutUint64(payload[4:], uint64(i))

		start := time.Now()
		if err := conn.SetDeadline(start.Add(timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
		if _, err := conn.Write(payload); err != nil {
			continue
		}
		if _, err := conn.Read(reply); err != nil {
			continue
		}
		samples = append(samples, time.Since(start))
	}

	return samples, nil
}

// report prints p50/p99/p99.9 round-trip latency from a sorted copy of samples.
func report(samples []time.Duration) {
	if len(samples) == 0 {
		fmt.Println("no successful round trips")
		return
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Printf("samples: %d\n", len(sorted))
	fmt.Printf("p50:    %s\n", percentile(sorted, 0.50))
	fmt.Printf("p99:    %s\n", percentile(sorted, 0.99))
	fmt.Printf("p99.9:  %s\n", percentile(sorted, 0.999))
}

// percentile returns the sample at rank p (0, 1] from a slice already
// sorted ascending.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
