// Package sdk is the HTTP client for the uplink server. The client
// orchestrator sits on top of it; nothing here retries beyond the
// transport level, retry policy lives with the caller.
package sdk

import (
	"time"

	"github.com/imroc/req/v3"

	"github.com/uplinkhq/uplink/internal/version"
)

type Client struct {
	client  *req.Client
	baseURL string

	Uploads *UploadAPI
}

func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent("Uplink/"+version.Version).
		SetTimeout(5 * time.Minute).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Client{
		client:  client,
		baseURL: baseURL,
		Uploads: newUploadAPI(client),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}
