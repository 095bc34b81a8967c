// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
)

func newInterfaceCmd() *cobra.Command {
	var (
		enabled bool
		mtu     uint32
	)

	cmd := &cobra.Command{
		Use:   "interface <ip> <name>",
		Short: "Change the config of one interface",
		Long: `Change the admin state or MTU of one interface.

The device is subscribed first; the change is refused until the
subscription has delivered its initial sync.

  orca-gnmi interface 10.0.0.1 Ethernet0 --enabled=false
  orca-gnmi interface 10.0.0.1 Ethernet0 --mtu 9100`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setEnabled := cmd.Flags().Changed("enabled")
			setMTU := cmd.Flags().Changed("mtu")
			if !setEnabled && !setMTU {
				return errors.New("nothing to change: use --enabled or --mtu")
			}

			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			ip, name := args[0], args[1]
			ctx := cmd.Context()

			if err := discover(ctx, d, ip); err != nil {
				return err
			}

			dispatcher := gnmi.NewDispatcher(d.store, gnmi.WithDispatchLogger(d.logger))
			manager := gnmi.NewSubscriptionManager(d.client, d.store, dispatcher,
				append(cfg.ManagerOptions(), gnmi.WithManagerLogger(d.logger))...)
			defer manager.UnsubscribeAll(context.WithoutCancel(ctx))

			configurator := gnmi.NewConfigurator(d.client, manager)
			if setEnabled {
				if err := configurator.SetInterfaceEnabled(ctx, ip, name, enabled); err != nil {
					return err
				}
			}
			if setMTU {
				if err := configurator.SetInterfaceMTU(ctx, ip, name, mtu); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s updated\n", ip, name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", true, "admin state")
	cmd.Flags().Uint32Var(&mtu, "mtu", 0, "MTU")
	return cmd
}

func newPortGroupCmd() *cobra.Command {
	var speed string

	cmd := &cobra.Command{
		Use:   "port-group <ip> <id>",
		Short: "Change the speed of one port group",
		Long: `Change the speed of one port group.

  orca-gnmi port-group 10.0.0.1 1 --speed openconfig-if-ethernet:SPEED_25GB`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if speed == "" {
				return errors.New("--speed is required")
			}

			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			ip, id := args[0], args[1]
			ctx := cmd.Context()

			if err := discover(ctx, d, ip); err != nil {
				return err
			}

			dispatcher := gnmi.NewDispatcher(d.store, gnmi.WithDispatchLogger(d.logger))
			manager := gnmi.NewSubscriptionManager(d.client, d.store, dispatcher,
				append(cfg.ManagerOptions(), gnmi.WithManagerLogger(d.logger))...)
			defer manager.UnsubscribeAll(context.WithoutCancel(ctx))

			if err := gnmi.NewConfigurator(d.client, manager).SetPortGroupSpeed(ctx, ip, id, speed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s port group %s updated\n", ip, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&speed, "speed", "", "port speed identity")
	return cmd
}
