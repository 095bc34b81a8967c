// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <ip> <path>...",
		Short: "Read one or more paths from a device",
		Long: `Read one or more paths from a device and print the merged JSON.

  orca-gnmi get 10.0.0.1 openconfig-interfaces:interfaces/interface[name=Ethernet0]/config`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.client.GetPaths(cmd.Context(), args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.JSON())
			return nil
		},
	}
}

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities <ip>",
		Short: "Show the gNMI version, encodings and models of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.client.Capabilities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gNMI version: %s\n", res.Version)
			fmt.Fprintf(out, "encodings:    %s\n", strings.Join(res.Encodings, ", "))
			fmt.Fprintf(out, "models:       %d\n", len(res.Models))
			for _, m := range res.Models {
				fmt.Fprintf(out, "  %s %s (%s)\n", m.GetName(), m.GetVersion(), m.GetOrganization())
			}
			return nil
		},
	}
}
