// Package client exposes the daemon's image, container and system operations on top of
// the daemon request layer. Builds are assembled locally by buildctx and uploaded as a
// tar stream.
package client

import (
	"fmt"
	"net/http"
	"os"

	"github.com/containerd/errdefs"

	"github.com/HershyOrg/dockhand/buildctx"
	"github.com/HershyOrg/dockhand/config"
	"github.com/HershyOrg/dockhand/daemon"
	"github.com/HershyOrg/dockhand/logger"
)

// ErrInvalidArgument is returned before any I/O when a required argument is missing.
// It matches errdefs.IsInvalidArgument.
var ErrInvalidArgument = fmt.Errorf("client: %w", errdefs.ErrInvalidArgument)

var (
	epInfo    = daemon.Endpoint{Method: http.MethodGet, Path: "/info"}
	epVersion = daemon.Endpoint{Method: http.MethodGet, Path: "/version"}
	epPing    = daemon.Endpoint{Method: http.MethodGet, Path: "/_ping"}

	epImageCreate  = daemon.Endpoint{Method: http.MethodPost, Path: "/images/create"}
	epImageSearch  = daemon.Endpoint{Method: http.MethodGet, Path: "/images/search"}
	epImageRemove  = daemon.Endpoint{Method: http.MethodDelete, Path: "/images/{name}"}
	epImageList    = daemon.Endpoint{Method: http.MethodGet, Path: "/images/json"}
	epImageInspect = daemon.Endpoint{Method: http.MethodGet, Path: "/images/{name}/json"}
	epBuild        = daemon.Endpoint{Method: http.MethodPost, Path: "/build"}
	epCommit       = daemon.Endpoint{Method: http.MethodPost, Path: "/commit"}

	epContainerCreate   = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/create"}
	epContainerList     = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/json"}
	epContainerStart    = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/start"}
	epContainerInspect  = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/{id}/json"}
	epContainerTop      = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/{id}/top"}
	epContainerRemove   = daemon.Endpoint{Method: http.MethodDelete, Path: "/containers/{id}"}
	epContainerWait     = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/wait"}
	epContainerAttach   = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/attach"}
	epContainerAttachWS = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/{id}/attach/ws"}
	epContainerChanges  = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/{id}/changes"}
	epContainerLogs     = daemon.Endpoint{Method: http.MethodGet, Path: "/containers/{id}/logs"}
	epContainerStop     = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/stop"}
	epContainerRestart  = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/restart"}
	epContainerKill     = daemon.Endpoint{Method: http.MethodPost, Path: "/containers/{id}/kill"}
)

// Client is safe for concurrent use.
type Client struct {
	daemon *daemon.Client
	spool  *buildctx.Spool
	log    *logger.Logger

	// set when the logger was opened from configuration and must be closed with the Client
	ownedLog *logger.Logger
}

type Option func(*Client)

// WithSpool sets where build archives are staged. Defaults to the system temp dir.
func WithSpool(s *buildctx.Spool) Option {
	return func(c *Client) { c.spool = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New wraps d.
func New(d *daemon.Client, opts ...Option) *Client {
	c := &Client{
		daemon: d,
		spool:  buildctx.NewSpool(""),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a Client from cfg. A nil log opens one from cfg.Logging, which the
// Client then owns until Close. Extra daemon options, such as metrics, are applied last.
func FromConfig(cfg *config.Config, log *logger.Logger, opts ...daemon.Option) (*Client, error) {
	var owned *logger.Logger
	if log == nil {
		l, err := logger.New("dockhand", os.Stderr, cfg.Logging.File, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to open logger: %w", err)
		}
		log, owned = l, l
	}
	dopts := append([]daemon.Option{daemon.WithLogger(log.Named("daemon"))}, opts...)
	d, err := daemon.FromConfig(cfg.Daemon, dopts...)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, err
	}
	c := New(d,
		WithSpool(buildctx.NewSpool(cfg.Build.SpoolDir)),
		WithLogger(log.Named("client")),
	)
	c.ownedLog = owned
	return c, nil
}

// Close releases the logger FromConfig opened, if any.
func (c *Client) Close() error {
	if c.ownedLog == nil {
		return nil
	}
	return c.ownedLog.Close()
}

// Daemon returns the underlying request layer.
func (c *Client) Daemon() *daemon.Client {
	return c.daemon
}

func requireID(what, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, what)
	}
	return nil
}
