// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// orca-gnmi keeps gNMI subscriptions to a fleet of SONiC switches, mirrors
// their configuration into a local store and forwards the streamed updates
// to InfluxDB and MQTT.
//
// Usage:
//
//	orca-gnmi run -c config.yaml                 Discover, subscribe and stream
//	orca-gnmi get <ip> <path>...                 One-shot Get
//	orca-gnmi capabilities <ip>                  Show device capabilities
//	orca-gnmi interface <ip> <name> --mtu 9100   Change interface config
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
	"github.com/STORDIS/orca-nw-lib-sub000/config"
	"github.com/STORDIS/orca-nw-lib-sub000/store"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
	log = logrus.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "orca-gnmi",
	Short:             "gNMI subscription collector for SONiC switches",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return setupLogging(cfg.Logging)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newGetCmd(),
		newCapabilitiesCmd(),
		newInterfaceCmd(),
		newPortGroupCmd(),
	)
}

func setupLogging(lc config.LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if lc.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// deps is the wiring shared by every command.
type deps struct {
	logger   gnmi.Logger
	store    *store.BoltStore
	registry *gnmi.ChannelRegistry
	client   *gnmi.Client
}

func openDeps() (*deps, error) {
	logger := gnmi.NewLogrusLogger(log)

	st, err := store.NewBoltStore(cfg.Store.Path, cfg.Store.Timeout)
	if err != nil {
		return nil, err
	}

	registry := gnmi.NewChannelRegistry(append(cfg.RegistryOptions(),
		gnmi.WithRegistryLogger(logger))...)

	client := gnmi.NewClient(registry,
		gnmi.WithLogger(logger),
		gnmi.WithStatusSource(st),
		gnmi.OperationTimeout(cfg.GNMI.RequestTimeout))

	return &deps{logger: logger, store: st, registry: registry, client: client}, nil
}

func (d *deps) Close() {
	d.registry.InvalidateAll()
	if err := d.store.Close(); err != nil {
		log.WithError(err).Warn("closing store")
	}
}
