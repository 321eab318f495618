// Package buildctx assembles a build context archive from a directory and the resources
// named by its Dockerfile.
//
// The pipeline is Open (validate the root) -> parse the directive file -> Resolve every
// inclusion directive -> write a tar stream whose first entry is always the directive file.
package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/HershyOrg/dockhand/dockerfile"
)

// Context is a validated build context root.
type Context struct {
	Root          string // absolute, symlinks evaluated
	DirectiveFile string // name of the directive file directly under Root
}

// Open validates root and the directive file inside it. Nothing is parsed yet.
func Open(root string) (*Context, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &ContextError{Root: root, Err: err}
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ContextError{Root: root, Err: ErrContextNotFound}
		}
		return nil, &ContextError{Root: root, Err: err}
	}

	info, err := os.Stat(canon)
	if err != nil {
		return nil, &ContextError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ContextError{Root: root, Err: ErrContextNotDirectory}
	}

	c := &Context{Root: canon, DirectiveFile: dockerfile.FileName}
	df, err := os.Stat(c.DirectivePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ContextError{Root: root, Err: ErrMissingDirectiveFile}
		}
		return nil, &ContextError{Root: root, Err: err}
	}
	if !df.Mode().IsRegular() {
		return nil, &ContextError{Root: root, Err: fmt.Errorf("%w: %s is not a regular file", ErrMissingDirectiveFile, c.DirectiveFile)}
	}
	// a symlinked directive file must stay inside the root like any other entry
	target, err := filepath.EvalSymlinks(c.DirectivePath())
	if err != nil {
		return nil, &ContextError{Root: root, Err: err}
	}
	if _, ok := relativeTo(canon, target); !ok {
		return nil, &ContextError{Root: root, Err: fmt.Errorf("%w: %s", ErrSourceOutsideContext, c.DirectiveFile)}
	}
	return c, nil
}

func (c *Context) DirectivePath() string {
	return filepath.Join(c.Root, c.DirectiveFile)
}

// DirectiveResource is the archive entry for the directive file itself.
func (c *Context) DirectiveResource() Resource {
	return Resource{Path: c.DirectivePath(), Name: archiveName(c.DirectiveFile)}
}

// ReadDirectives parses the directive file.
func (c *Context) ReadDirectives() ([]dockerfile.Directive, error) {
	f, err := os.Open(c.DirectivePath())
	if err != nil {
		return nil, &ContextError{Root: c.Root, Err: err}
	}
	defer f.Close()

	return dockerfile.ParseReader(f)
}
