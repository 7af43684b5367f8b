// udprouter-echo is a trivial UDP echo server used as a test/demo backend
// for the packet router. It speaks no part of the payload-steering wire
// convention itself: it echoes whatever payload arrives, unchanged, back to
// whatever source address/port delivered it. The steering is entirely the
// router's concern.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	appversion "github.com/xdp-tools/udprouter/internal/version"
)

// maxDatagramSize bounds a single read; UDP payloads in this protocol are
// small probes, never jumbo datagrams.
const maxDatagramSize = 4096

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":9000", "UDP address to listen on")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("udprouter-echo"))
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	conn, err := net.ListenPacket("udp", *addr)
	if err != nil {
		logger.Error("failed to listen", slog.String("addr", *addr), slog.String("error", err.Error()))
		return 1
	}
	defer conn.Close()

	logger.Info("udprouter-echo listening", slog.String("addr", conn.LocalAddr().String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := serve(conn, logger); err != nil {
		if errors.Is(err, net.ErrClosed) {
			logger.Info("udprouter-echo stopped")
			return 0
		}
		logger.Error("serve failed", slog.String("error", err.Error()))
		return 1
	}

	return 0
}

// serve loops reading datagrams and writing each payload back to whoever
// sent it, unchanged, until conn is closed.
func serve(conn net.PacketConn, logger *slog.Logger) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}

		if _, err := conn.WriteTo(buf[:n], src); err != nil {
			logger.Warn("failed to echo datagram",
				slog.String("src", src.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
