package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/distribution/reference"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/registry"

	"github.com/HershyOrg/dockhand/daemon"
)

// Pull fetches ref from a registry and waits for the pull to finish. tag overrides an
// untagged ref and must agree with a tagged one; registryHost is optional.
func (c *Client) Pull(ctx context.Context, ref, tag, registryHost string) error {
	if ref == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidArgument)
	}
	fromImage, tag, err := pullTarget(ref, tag)
	if err != nil {
		return err
	}

	s, err := c.daemon.Stream(ctx, daemon.Request{
		Endpoint: epImageCreate,
		Query: map[string]*string{
			"fromImage": daemon.String(fromImage),
			"tag":       daemon.OptionalString(tag),
			"registry":  daemon.OptionalString(registryHost),
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	return DecodeProgress(s, func(m ProgressMessage) error {
		c.log.Debug("pull progress", map[string]interface{}{"image": fromImage, "id": m.ID, "status": m.Status})
		return nil
	})
}

func pullTarget(ref, tag string) (string, string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if _, ok := named.(reference.Digested); ok {
		if tag != "" {
			return "", "", fmt.Errorf("%w: tag %q given for digest reference %s", ErrInvalidArgument, tag, ref)
		}
		return reference.FamiliarString(named), "", nil
	}
	if tagged, ok := named.(reference.Tagged); ok {
		if tag != "" && tag != tagged.Tag() {
			return "", "", fmt.Errorf("%w: tag %q conflicts with %s", ErrInvalidArgument, tag, ref)
		}
		tag = tagged.Tag()
	}
	if tag == "" {
		tag = "latest"
	}
	return reference.FamiliarName(named), tag, nil
}

func (c *Client) Search(ctx context.Context, term string) ([]registry.SearchResult, error) {
	if term == "" {
		return nil, fmt.Errorf("%w: search term is required", ErrInvalidArgument)
	}
	var out []registry.SearchResult
	err := c.daemon.Call(ctx, daemon.Request{
		Endpoint: epImageSearch,
		Query:    map[string]*string{"term": daemon.String(term)},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RemoveImage(ctx context.Context, name string) error {
	if err := requireID("image name", name); err != nil {
		return err
	}
	return c.daemon.Call(ctx, daemon.Request{Endpoint: epImageRemove, PathParams: []string{name}}, nil)
}

// RemoveImages removes names in order and stops at the first failure.
func (c *Client) RemoveImages(ctx context.Context, names []string) error {
	if names == nil {
		return fmt.Errorf("%w: image list is required", ErrInvalidArgument)
	}
	for _, name := range names {
		if err := c.RemoveImage(ctx, name); err != nil {
			return fmt.Errorf("remove image %s: %w", name, err)
		}
	}
	return nil
}

// Images lists images, optionally only those whose reference matches filter.
func (c *Client) Images(ctx context.Context, filter string, all bool) ([]image.Summary, error) {
	q := map[string]*string{"all": daemon.Bool(all)}
	if filter != "" {
		data, err := json.Marshal(map[string]map[string]bool{"reference": {filter: true}})
		if err != nil {
			return nil, err
		}
		q["filters"] = daemon.String(string(data))
	}

	var out []image.Summary
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epImageList, Query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InspectImage(ctx context.Context, name string) (*image.InspectResponse, error) {
	if err := requireID("image name", name); err != nil {
		return nil, err
	}
	var out image.InspectResponse
	if err := c.daemon.Call(ctx, daemon.Request{Endpoint: epImageInspect, PathParams: []string{name}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportImage creates an image from the tarball in r and returns the new image's ID.
func (c *Client) ImportImage(ctx context.Context, repository, tag string, r io.Reader) (string, error) {
	if repository == "" {
		return "", fmt.Errorf("%w: repository is required", ErrInvalidArgument)
	}
	if r == nil {
		return "", fmt.Errorf("%w: image stream is required", ErrInvalidArgument)
	}

	s, err := c.daemon.Stream(ctx, daemon.Request{
		Endpoint: epImageCreate,
		Query: map[string]*string{
			"fromSrc": daemon.String("-"),
			"repo":    daemon.String(repository),
			"tag":     daemon.OptionalString(tag),
		},
		Body: daemon.RawBody(r, daemon.ContentTypeTar),
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	var id string
	err = DecodeProgress(s, func(m ProgressMessage) error {
		if strings.HasPrefix(m.Status, "sha256:") {
			id = m.Status
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("import of %s reported no image ID", repository)
	}
	return id, nil
}
