// Package records notifies the downstream metadata service when an
// upload finishes assembling. The call is fire-and-forget from the
// pipeline's perspective; failures are logged, never propagated back
// into the session lifecycle.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/imroc/req/v3"

	"github.com/uplinkhq/uplink/internal/server/upload"
	"github.com/uplinkhq/uplink/internal/utils"
	"github.com/uplinkhq/uplink/internal/version"
)

type Config struct {
	// URL is the media-record endpoint, e.g.
	// https://metadata.internal/api/records. Empty disables the client.
	URL string `mapstructure:"url"`

	// APIToken is sent as a bearer token when set.
	APIToken string `mapstructure:"api_token"`
}

type Client struct {
	url    string
	client *req.Client
}

func New(cfg *Config) *Client {
	client := req.C().
		SetUserAgent("UplinkServer/"+version.Version).
		SetTimeout(30 * time.Second).
		SetCommonRetryCount(2).
		SetCommonRetryBackoffInterval(time.Second, 10*time.Second)

	if cfg.APIToken != "" {
		client.SetCommonBearerAuthToken(cfg.APIToken)
	}

	slog.Debug("records client", "url", cfg.URL, "token", utils.MaskSecret(cfg.APIToken))
	return &Client{url: cfg.URL, client: client}
}

func (c *Client) CreateMediaRecord(ctx context.Context, record *upload.MediaRecord) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(record).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("create media record: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("create media record: %s", resp.Status)
	}

	slog.Info("media record created", "key", record.Key, "owner", record.OwnerID)
	return nil
}
