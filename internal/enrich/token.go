// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenRefreshMargin is how close to expiry a cached token is replaced.
const tokenRefreshMargin = 30 * time.Second

// tokenCache holds one client-credentials access token. oauth2's
// ReuseTokenSource cannot be told to discard a token the server rejected,
// so the cache is kept here and force refreshes go straight to the grant.
type tokenCache struct {
	grant  *clientcredentials.Config
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

func newTokenCache(clientID, clientSecret, tokenURL string, client *http.Client, now func() time.Time) *tokenCache {
	return &tokenCache{
		grant: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
		now:    now,
	}
}

// Token returns a cached access token, fetching a new one when none is held,
// when the held one expires within tokenRefreshMargin, or when force is set.
func (c *tokenCache) Token(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != nil && c.token.AccessToken != "" {
		if c.token.Expiry.IsZero() || c.now().Add(tokenRefreshMargin).Before(c.token.Expiry) {
			return c.token.AccessToken, nil
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := c.grant.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials grant: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}
