// Package appcontrol consults the external uninstall-disposal policy.
// The gate is advisory infrastructure: when unconfigured or unreachable
// it fails open and uninstall proceeds.
package appcontrol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
)

// Gate answers whether uninstalling an app is allowed by policy.
type Gate interface {
	IsUninstallAllowed(ctx context.Context, appID string, userID int32) bool
}

// AllowAll is the gate used when app control is disabled.
type AllowAll struct{}

// IsUninstallAllowed always allows.
func (AllowAll) IsUninstallAllowed(context.Context, string, int32) bool { return true }

// HTTPGate queries a policy endpoint with retries.
type HTTPGate struct {
	endpoint string
	client   *retryablehttp.Client
	log      *logging.Logger
}

// NewHTTPGate creates a gate against endpoint.
func NewHTTPGate(endpoint string, log *logging.Logger) *HTTPGate {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 3 * time.Second
	client.Logger = nil

	return &HTTPGate{
		endpoint: endpoint,
		client:   client,
		log:      log.Named("appcontrol"),
	}
}

// IsUninstallAllowed asks the policy service for a disposal verdict. Only
// an explicit 403 denies; any transport failure fails open.
func (g *HTTPGate) IsUninstallAllowed(ctx context.Context, appID string, userID int32) bool {
	u := fmt.Sprintf("%s/disposal/uninstall?app_id=%s&user_id=%d", g.endpoint, url.QueryEscape(appID), userID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return true
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("app control unreachable, failing open")
		return true
	}
	defer resp.Body.Close()

	return resp.StatusCode != http.StatusForbidden
}
