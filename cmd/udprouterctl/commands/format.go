package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/xdp-tools/udprouter/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStats renders a GetStatsResponse in the requested format.
func formatStats(resp *server.GetStatsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatsJSON(resp)
	case formatTable:
		return formatStatsTable(resp), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatsTable(resp *server.GetStatsResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Total Packets:\t%d\n", resp.TotalPackets)
	fmt.Fprintf(w, "Client -> Server:\t%d\n", resp.ClientToServerPackets)
	fmt.Fprintf(w, "Server -> Client:\t%d\n", resp.ServerToClientPackets)

	w.Flush()
	return buf.String()
}

func formatStatsJSON(resp *server.GetStatsResponse) (string, error) {
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(b) + "\n", nil
}
