package buildctx

import (
	"errors"
	"fmt"
)

// Context validation failures.
var (
	ErrContextNotFound      = errors.New("build context directory does not exist")
	ErrContextNotDirectory  = errors.New("build context is not a directory")
	ErrMissingDirectiveFile = errors.New("directive file missing from build context")
	ErrInvalidIgnoreFile    = errors.New("invalid .dockerignore")
)

// Resolution failures.
var (
	ErrUnsafeAbsoluteSource = errors.New("absolute source paths are not allowed")
	ErrSourceOutsideContext = errors.New("source is outside the build context")
	ErrSourceNotFound       = errors.New("source does not exist")
	ErrUnsupportedSource    = errors.New("source is neither a regular file nor a directory")
	ErrInvalidSource        = errors.New("invalid source reference")
)

// ContextError reports a build context that cannot be used at all.
type ContextError struct {
	Root string
	Err  error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("build context %s: %v", e.Root, e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

// ResolutionError reports an inclusion directive whose source cannot be resolved.
type ResolutionError struct {
	Source string
	Line   int
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("resolve %q (line %d): %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("resolve %q: %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ArchiveError reports an I/O failure while streaming an entry into the archive.
// The partial archive is always discarded.
type ArchiveError struct {
	Name string
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("archive: %v", e.Err)
	}
	return fmt.Sprintf("archive entry %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}
