package client

import (
	"context"
	"fmt"
	"io"

	"github.com/HershyOrg/dockhand/buildctx"
	"github.com/HershyOrg/dockhand/daemon"
)

// BuildOptions are the query flags sent with a build.
type BuildOptions struct {
	Tag     string
	NoCache bool
	Remove  bool // remove intermediate containers
	Quiet   bool

	// DisableIgnoreFile sends every resolved file even when .dockerignore excludes it.
	DisableIgnoreFile bool
}

// Build resolves the context at root, uploads it and returns the daemon's JSON progress
// stream. Nothing is sent when the context fails to parse or resolve. The staged archive
// is removed once the upload is done.
func (c *Client) Build(ctx context.Context, root string, opts BuildOptions) (*daemon.Stream, error) {
	bopts := []buildctx.Option{buildctx.WithLogger(c.log.Named("buildctx"))}
	if opts.DisableIgnoreFile {
		bopts = append(bopts, buildctx.WithoutIgnoreFile())
	}
	arc, err := buildctx.Build(ctx, root, c.spool, bopts...)
	if err != nil {
		return nil, err
	}
	defer arc.Close()
	c.log.Debug("uploading build context", map[string]interface{}{
		"root":    root,
		"spool":   c.spool.BaseDir(),
		"entries": arc.Summary.Entries,
		"tag":     opts.Tag,
	})

	return c.BuildFromArchive(ctx, arc, opts)
}

// BuildFromArchive uploads a prepared build context tar as is.
func (c *Client) BuildFromArchive(ctx context.Context, archive io.Reader, opts BuildOptions) (*daemon.Stream, error) {
	if archive == nil {
		return nil, fmt.Errorf("%w: build context is required", ErrInvalidArgument)
	}
	return c.daemon.Stream(ctx, daemon.Request{
		Endpoint: epBuild,
		Query: map[string]*string{
			"t":       daemon.OptionalString(opts.Tag),
			"nocache": daemon.Bool(opts.NoCache),
			"rm":      daemon.Bool(opts.Remove),
			"q":       daemon.Bool(opts.Quiet),
		},
		Body: daemon.RawBody(archive, daemon.ContentTypeTar),
	})
}
