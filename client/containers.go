package client

import (
	"context"
	"fmt"
	"time"

	"github.com/moby/moby/api/types/container"

	"github.com/HershyOrg/dockhand/daemon"
)

// maxLogBytes bounds the one-shot Logs read.
const maxLogBytes = 16 << 20

// createRequest is the /containers/create payload: the container config with the host
// config nested under "HostConfig".
type createRequest struct {
	*container.Config
	HostConfig *container.HostConfig `json:"HostConfig,omitempty"`
}

// CreateContainer creates a container. name is optional.
func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (*container.CreateResponse, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: container config is required", ErrInvalidArgument)
	}
	c.log.Debug("creating container", map[string]interface{}{"image": cfg.Image, "name": name})

	var out container.CreateResponse
	err := c.daemon.Call(ctx, daemon.Request{
		Endpoint: epContainerCreate,
		Query:    map[string]*string{"name": daemon.OptionalString(name)},
		Body:     daemon.JSONBody(createRequest{Config: cfg, HostConfig: hostCfg}),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOptions selects containers for ListContainers. Latest overrides Limit.
type ListOptions struct {
	All    bool
	Latest bool
	Limit  int // <= 0: no limit
	Size   bool
	Since  string
	Before string
}

func (c *Client) ListContainers(ctx context.Context, opts ListOptions) ([]container.Summary, error) {
	q := map[string]*string{
		"all":    daemon.Bool(opts.All),
		"size":   daemon.Bool(opts.Size),
		"since":  daemon.OptionalString(opts.Since),
		"before": daemon.OptionalString(opts.Before),
	}
	switch {
	case opts.Latest:
		q["limit"] = daemon.Int(1)
	case opts.Limit > 0:
		q["limit"] = daemon.Int(opts.Limit)
	}

	var out []container.Summary
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epContainerList, Query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartContainer starts id. hostCfg is only sent when non-nil; daemons speaking API 1.24
// or later reject it and expect the host config at create time.
func (c *Client) StartContainer(ctx context.Context, id string, hostCfg *container.HostConfig) error {
	if err := requireID("container id", id); err != nil {
		return err
	}
	req := daemon.Request{Endpoint: epContainerStart, PathParams: []string{id}}
	if hostCfg != nil {
		req.Body = daemon.JSONBody(hostCfg)
	}
	return c.daemon.Call(ctx, req, nil)
}

func (c *Client) InspectContainer(ctx context.Context, id string) (*container.InspectResponse, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	var out container.InspectResponse
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epContainerInspect, PathParams: []string{id}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TopResponse is the process table of a running container.
type TopResponse struct {
	Titles    []string   `json:"Titles"`
	Processes [][]string `json:"Processes"`
}

// Top lists the processes in id. psArgs is passed to ps; empty uses the daemon default.
func (c *Client) Top(ctx context.Context, id, psArgs string) (*TopResponse, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	var out TopResponse
	err := c.daemon.Call(ctx, daemon.Request{
		Endpoint:   epContainerTop,
		PathParams: []string{id},
		Query:      map[string]*string{"ps_args": daemon.OptionalString(psArgs)},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveContainer(ctx context.Context, id string, removeVolumes bool) error {
	if err := requireID("container id", id); err != nil {
		return err
	}
	return c.daemon.Call(ctx, daemon.Request{
		Endpoint:   epContainerRemove,
		PathParams: []string{id},
		Query:      map[string]*string{"v": daemon.Bool(removeVolumes)},
	}, nil)
}

// RemoveContainers removes ids in order and stops at the first failure.
func (c *Client) RemoveContainers(ctx context.Context, ids []string, removeVolumes bool) error {
	if ids == nil {
		return fmt.Errorf("%w: container list is required", ErrInvalidArgument)
	}
	for _, id := range ids {
		if err := c.RemoveContainer(ctx, id, removeVolumes); err != nil {
			return fmt.Errorf("remove container %s: %w", id, err)
		}
	}
	return nil
}

// WaitContainer blocks until id exits.
func (c *Client) WaitContainer(ctx context.Context, id string) (*container.WaitResponse, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	var out container.WaitResponse
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epContainerWait, PathParams: []string{id}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func attachRequest(id string, follow bool) daemon.Request {
	return daemon.Request{
		Endpoint:   epContainerAttach,
		PathParams: []string{id},
		Query: map[string]*string{
			"logs":   daemon.Bool(true),
			"stdout": daemon.Bool(true),
			"stderr": daemon.Bool(true),
			"stream": daemon.Bool(follow),
		},
	}
}

// Logs returns the output id has produced so far, still multiplexed, reading at most
// 16 MiB.
func (c *Client) Logs(ctx context.Context, id string) ([]byte, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	s, err := c.daemon.Stream(ctx, attachRequest(id, false))
	if err != nil {
		return nil, err
	}
	return s.ReadAll(maxLogBytes)
}

// TailLogs returns the last tail lines id has logged, timestamped and still multiplexed.
// tail <= 0 returns everything. The read is bounded like Logs.
func (c *Client) TailLogs(ctx context.Context, id string, tail int) ([]byte, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	q := map[string]*string{
		"stdout":     daemon.Bool(true),
		"stderr":     daemon.Bool(true),
		"timestamps": daemon.Bool(true),
		"tail":       daemon.String("all"),
	}
	if tail > 0 {
		q["tail"] = daemon.Int(tail)
	}
	s, err := c.daemon.Stream(ctx, daemon.Request{Endpoint: epContainerLogs, PathParams: []string{id}, Query: q})
	if err != nil {
		return nil, err
	}
	return s.ReadAll(maxLogBytes)
}

// LogsStream attaches to id's output and keeps delivering it until the container stops
// or the caller closes the stream.
func (c *Client) LogsStream(ctx context.Context, id string) (*daemon.Stream, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	return c.daemon.Stream(ctx, attachRequest(id, true))
}

// AttachWebsocket opens an interactive stdin/stdout/stderr session with id.
func (c *Client) AttachWebsocket(ctx context.Context, id string) (*daemon.Conn, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	return c.daemon.DialWebsocket(ctx, daemon.Request{
		Endpoint:   epContainerAttachWS,
		PathParams: []string{id},
		Query: map[string]*string{
			"stdin":  daemon.Bool(true),
			"stdout": daemon.Bool(true),
			"stderr": daemon.Bool(true),
			"stream": daemon.Bool(true),
		},
	})
}

func (c *Client) Diff(ctx context.Context, id string) ([]container.FilesystemChange, error) {
	if err := requireID("container id", id); err != nil {
		return nil, err
	}
	var out []container.FilesystemChange
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epContainerChanges, PathParams: []string{id}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultStopTimeout is the stop grace period used when callers have no preference.
const DefaultStopTimeout = 10 * time.Second

// StopContainer stops id, killing it after timeout. Stopping a stopped container succeeds.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	if err := requireID("container id", id); err != nil {
		return err
	}
	return c.daemon.Call(ctx, daemon.Request{
		Endpoint:   epContainerStop,
		PathParams: []string{id},
		Query:      map[string]*string{"t": daemon.Int(int(timeout / time.Second))},
	}, nil)
}

func (c *Client) Restart(ctx context.Context, id string, timeout time.Duration) error {
	if err := requireID("container id", id); err != nil {
		return err
	}
	return c.daemon.Call(ctx, daemon.Request{
		Endpoint:   epContainerRestart,
		PathParams: []string{id},
		Query:      map[string]*string{"t": daemon.Int(int(timeout / time.Second))},
	}, nil)
}

func (c *Client) Kill(ctx context.Context, id string) error {
	if err := requireID("container id", id); err != nil {
		return err
	}
	return c.daemon.Call(ctx, daemon.Request{Endpoint: epContainerKill, PathParams: []string{id}}, nil)
}

// CommitOptions describes the image created from a container. Config, when set, is
// applied to the new image.
type CommitOptions struct {
	Container string
	Repo      string
	Tag       string
	Message   string
	Author    string
	Pause     bool
	Config    *container.Config
}

// Commit snapshots a container into an image and returns the image ID.
func (c *Client) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := requireID("container id", opts.Container); err != nil {
		return "", err
	}
	req := daemon.Request{
		Endpoint: epCommit,
		Query: map[string]*string{
			"container": daemon.String(opts.Container),
			"repo":      daemon.OptionalString(opts.Repo),
			"tag":       daemon.OptionalString(opts.Tag),
			"comment":   daemon.OptionalString(opts.Message),
			"author":    daemon.OptionalString(opts.Author),
			"pause":     daemon.Bool(opts.Pause),
		},
	}
	if opts.Config != nil {
		req.Body = daemon.JSONBody(opts.Config)
	}

	var out struct {
		ID string `json:"Id"`
	}
	if err := c.daemon.Call(ctx, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}
