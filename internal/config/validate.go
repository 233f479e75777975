// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Route.BackoffMax < c.Route.BackoffBase {
		return fmt.Errorf("route.backoff_max (%s) must be >= route.backoff_base (%s)", c.Route.BackoffMax, c.Route.BackoffBase)
	}
	if c.Photo.Enabled && c.Photo.APIURL == "" {
		return errors.New("photo.api_url is required when photo.enabled is true")
	}
	if c.Email.Enabled && (c.Email.Host == "" || c.Email.From == "") {
		return errors.New("email.host and email.from are required when email.enabled is true")
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.New("nats.url is required when using an external NATS server")
	}

	seen := make(map[string]struct{}, len(c.Geofence.Geofences))
	for _, g := range c.Geofence.Geofences {
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("duplicate geofence id %q", g.ID)
		}
		seen[g.ID] = struct{}{}
	}

	for _, r := range c.Alerts.Rules {
		for _, id := range r.Webhooks {
			if _, ok := c.Webhooks.Endpoints[id]; !ok {
				return fmt.Errorf("rule %q references unknown webhook %q", r.ID, id)
			}
		}
	}
	return nil
}
