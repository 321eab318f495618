package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/moby/moby/api/types/system"

	"github.com/HershyOrg/dockhand/daemon"
)

// Version is the daemon's /version payload.
type Version struct {
	Version       string `json:"Version"`
	APIVersion    string `json:"ApiVersion"`
	MinAPIVersion string `json:"MinAPIVersion,omitempty"`
	GitCommit     string `json:"GitCommit"`
	GoVersion     string `json:"GoVersion"`
	Os            string `json:"Os"`
	Arch          string `json:"Arch"`
	KernelVersion string `json:"KernelVersion,omitempty"`
	BuildTime     string `json:"BuildTime,omitempty"`
}

func (c *Client) Info(ctx context.Context) (*system.Info, error) {
	var info system.Info
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epInfo}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Version(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epVersion}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Ping returns the status code of /_ping.
func (c *Client) Ping(ctx context.Context) (int, error) {
	resp, err := c.daemon.Do(ctx, daemon.Request{Endpoint: epPing})
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Ready checks that /_ping answers with the daemon's "OK" body.
func (c *Client) Ready(ctx context.Context) error {
	body, err := c.daemon.Text(ctx, daemon.Request{Endpoint: epPing})
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) != "OK" {
		return fmt.Errorf("daemon not ready: ping answered %q", body)
	}
	return nil
}
