// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
	"github.com/STORDIS/orca-nw-lib-sub000/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Discover the configured devices and keep them subscribed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	sinks, closeSinks, err := openSinks(ctx, d.logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	ips := cfg.DeviceAddresses()
	if len(ips) == 0 {
		return errors.New("no devices configured")
	}

	for ip, err := range gnmi.ForEachDevice(ctx, ips, func(ctx context.Context, ip string) error {
		return discover(ctx, d, ip)
	}) {
		log.WithField("device", ip).WithError(err).Warn("discovery failed")
	}

	dispatcher := gnmi.NewDispatcher(d.store,
		gnmi.WithSinks(sinks...),
		gnmi.WithDispatchLogger(d.logger))
	manager := gnmi.NewSubscriptionManager(d.client, d.store, dispatcher,
		append(cfg.ManagerOptions(), gnmi.WithManagerLogger(d.logger))...)

	for ip, err := range gnmi.ForEachDevice(ctx, ips, func(ctx context.Context, ip string) error {
		return manager.Subscribe(ctx, ip, false)
	}) {
		log.WithField("device", ip).WithError(err).Error("subscribe failed")
	}
	log.WithField("devices", manager.SubscribedDevices()).Info("collector running")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	manager.UnsubscribeAll(shutdownCtx)
	return nil
}

// discover refreshes the cached inventory of ip. A failure is recorded as
// the device status so the readiness gate sees it.
func discover(ctx context.Context, d *deps, ip string) error {
	if err := d.store.SetStatus(ip, ""); err != nil {
		return err
	}
	inv, err := gnmi.DiscoverInventory(ctx, d.client, ip)
	if err != nil {
		if serr := d.store.SetStatus(ip, err.Error()); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	}
	log.WithField("device", ip).
		WithField("interfaces", len(inv.Interfaces)).
		WithField("port_groups", len(inv.PortGroups)).
		Info("inventory discovered")
	return d.store.SetInventory(ip, inv)
}

func openSinks(ctx context.Context, logger gnmi.Logger) ([]gnmi.TelemetrySink, func(), error) {
	var (
		sinks   []gnmi.TelemetrySink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("closing telemetry sink")
			}
		}
	}

	influx, err := telemetry.ConnectInflux(ctx, cfg.InfluxDB, logger)
	switch {
	case err == nil:
		sinks = append(sinks, influx)
		closers = append(closers, influx.Close)
	case !errors.Is(err, telemetry.ErrDisabled):
		closeAll()
		return nil, nil, err
	}

	mqtt, err := telemetry.ConnectMQTT(cfg.MQTT)
	switch {
	case err == nil:
		sinks = append(sinks, mqtt)
		closers = append(closers, mqtt.Close)
	case !errors.Is(err, telemetry.ErrDisabled):
		closeAll()
		return nil, nil, err
	}

	return sinks, closeAll, nil
}
