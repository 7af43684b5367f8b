package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Sentinel errors for CLI validation.
var (
	errNetworkRequired = errors.New("--network flag is required")
	errMaskRequired    = errors.New("--mask flag is required")
	errMACRequired     = errors.New("--mac flag is required")
)

func setLocalNetCmd() *cobra.Command {
	var network, mask string

	cmd := &cobra.Command{
		Use:   "set-local-net",
		Short: "Set the local subnet filter",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if network == "" {
				return errNetworkRequired
			}
			if mask == "" {
				return errMaskRequired
			}
			if err := client.SetLocalNetAndMask(context.Background(), network, mask); err != nil {
				return fmt.Errorf("set local net: %w", err)
			}
			fmt.Printf("Local net set to %s/%s.\n", network, mask)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&network, "network", "", "local network address, dotted-quad (required)")
	flags.StringVar(&mask, "mask", "", "local network mask, dotted-quad (required)")

	return cmd
}

func setBackendNetCmd() *cobra.Command {
	var network, mask string

	cmd := &cobra.Command{
		Use:   "set-backend-net",
		Short: "Set the backend subnet filter",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if network == "" {
				return errNetworkRequired
			}
			if mask == "" {
				return errMaskRequired
			}
			if err := client.SetBackendNetAndMask(context.Background(), network, mask); err != nil {
				return fmt.Errorf("set backend net: %w", err)
			}
			fmt.Printf("Backend net set to %s/%s.\n", network, mask)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&network, "network", "", "backend network address, dotted-quad (required)")
	flags.StringVar(&mask, "mask", "", "backend network mask, dotted-quad (required)")

	return cmd
}

func setGatewayMACCmd() *cobra.Command {
	var mac string

	cmd := &cobra.Command{
		Use:   "set-gateway-mac",
		Short: "Set the next-hop gateway MAC address",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if mac == "" {
				return errMACRequired
			}
			if err := client.SetGatewayMacAddress(context.Background(), mac); err != nil {
				return fmt.Errorf("set gateway mac: %w", err)
			}
			fmt.Printf("Gateway MAC set to %s.\n", mac)
			return nil
		},
	}

	cmd.Flags().StringVar(&mac, "mac", "", "gateway MAC address, colon-separated (required)")

	return cmd
}
