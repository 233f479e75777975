// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/skyfence/internal/config"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/reference"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print a summary",
		Long: `Load and validate the configuration exactly as serve would, parse the
reference tables, and report geofences or rules that would never match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ref := reference.NewRegistry()
			if err := loadReference(ref, cfg.Reference); err != nil {
				return err
			}
			warnings := checkConfig(cmd.OutOrStdout(), cfg, ref)
			fmt.Fprintf(cmd.OutOrStdout(), "\nconfiguration OK (%d warnings)\n", warnings)
			return nil
		},
	}
}

// checkConfig prints a summary of cfg and returns the number of warnings.
func checkConfig(w io.Writer, cfg *config.Config, ref *reference.Registry) int {
	warnings := 0
	warn := func(format string, args ...any) {
		warnings++
		fmt.Fprintf(w, "  warning: "+format+"\n", args...)
	}

	fmt.Fprintf(w, "feed:       %s every %s (site %s)\n", cfg.Feed.URL, cfg.EffectivePollInterval(), cfg.Feed.SiteID)
	if cfg.Feed.Interval < config.MinPollInterval {
		warn("feed.interval %s is below the %s floor", cfg.Feed.Interval, config.MinPollInterval)
	}

	switch {
	case !cfg.Route.Enabled:
		fmt.Fprintln(w, "routes:     disabled")
	case !cfg.RouteCredentialsPresent():
		fmt.Fprintln(w, "routes:     enabled but inactive")
		warn("route lookups need token_url, api_url, client_id and client_secret")
	default:
		mode := "soft"
		if cfg.Route.EnforceBudget {
			mode = "hard"
		}
		fmt.Fprintf(w, "routes:     %s, %d calls/day (%s budget)\n", cfg.Route.APIURL, cfg.Route.DailyBudget, mode)
		if cfg.Feed.EnrichWait > cfg.EffectivePollInterval() {
			warn("feed.enrich_wait %s exceeds the poll interval %s; a cycle that queues a route lookup runs late",
				cfg.Feed.EnrichWait, cfg.EffectivePollInterval())
		}
	}
	fmt.Fprintf(w, "photos:     enabled=%t\n", cfg.Photo.Enabled)

	aircraft, airports := ref.Sizes()
	fmt.Fprintf(w, "reference:  %d aircraft, %d airports\n", aircraft, airports)

	fences := geofencesFromConfig(cfg.Geofence.Geofences)
	fmt.Fprintf(w, "geofences:  %d (enabled=%t)\n", len(fences), cfg.Geofence.Enabled)
	for _, g := range fences {
		if g.Enabled && !g.Usable(models.DomainAircraft) && !g.Usable(models.DomainMessage) {
			warn("geofence %s has %d points and will never match", g.ID, len(g.Polygon))
		}
	}

	rules := rulesFromConfig(cfg.Alerts.Rules)
	fmt.Fprintf(w, "rules:      %d (cooldown %s)\n", len(rules), cfg.Alerts.Cooldown)
	for _, r := range rules {
		if !r.HasPredicates() {
			warn("rule %s has no predicates and will never match", r.ID)
		}
		if len(r.Emails) > 0 && !cfg.Email.Enabled {
			warn("rule %s has email recipients but email is disabled", r.ID)
		}
	}

	switch {
	case !cfg.NATS.Enabled:
		fmt.Fprintln(w, "nats:       disabled")
	case cfg.NATS.Embedded:
		fmt.Fprintf(w, "nats:       embedded on %s:%d, prefix %s\n", cfg.NATS.Host, cfg.NATS.Port, cfg.NATS.SubjectPrefix)
	default:
		fmt.Fprintf(w, "nats:       %s, prefix %s\n", cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	}

	store := "memory"
	if cfg.Audit.Path != "" {
		store = "badger at " + cfg.Audit.Path
	}
	fmt.Fprintf(w, "audit:      %s, retention %s\n", store, cfg.Audit.Retention)
	fmt.Fprintf(w, "server:     %s\n", cfg.Server.Addr)
	return warnings
}

func loadReference(ref *reference.Registry, cfg config.ReferenceConfig) error {
	if cfg.AircraftCSV != "" {
		if err := ref.LoadAircraftFile(cfg.AircraftCSV); err != nil {
			return fmt.Errorf("aircraft reference: %w", err)
		}
	}
	if cfg.AirportsCSV != "" {
		if err := ref.LoadAirportsFile(cfg.AirportsCSV); err != nil {
			return fmt.Errorf("airport reference: %w", err)
		}
	}
	return nil
}
