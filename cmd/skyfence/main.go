// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Command skyfence polls an ADS-B receiver feed, enriches the tracks it
// reports, evaluates geofences and alert rules against them and fans the
// results out to websocket viewers, NATS, webhooks and email.
//
// Configuration is layered (highest priority wins):
//   - environment variables (FEED_URL, ROUTE_CLIENT_ID, NATS_ENABLED, ...)
//   - the YAML file given with --config, or the first of the default paths
//   - built-in defaults
//
// Usage:
//
//	skyfence serve --config /etc/skyfence/config.yaml
//	skyfence check-config --config ./config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/skyfence/internal/config"
	"github.com/tomtom215/skyfence/internal/logging"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skyfence",
		Short: "Skyfence - ADS-B track ingestion, geofencing and alerting",
		Long: `Skyfence polls a local ADS-B receiver, keeps a live set and a session log
of aircraft tracks, enriches them with routes and photos, and raises
geofence and rule alerts in near real time.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("Skyfence version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckConfigCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}
