package buildctx

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/HershyOrg/dockhand/logger"
)

// Summary describes a written archive.
type Summary struct {
	Entries int
	Size    int64         // bytes of the tar stream
	Digest  digest.Digest // sha256 of the tar stream
}

// Archive is a spooled build context. Reading it yields the tar stream; Close removes
// the spool file.
type Archive struct {
	Summary

	file  *os.File
	spool *Spool
	once  sync.Once
	err   error
}

func (a *Archive) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Path is the location of the spool file until Close.
func (a *Archive) Path() string {
	return a.file.Name()
}

func (a *Archive) Close() error {
	a.once.Do(func() {
		a.err = a.spool.Discard(a.file)
	})
	return a.err
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// WriteArchive streams entries into w as an uncompressed tar, in the given order.
// Each entry's content is copied with a bound of the size recorded in its header.
func WriteArchive(ctx context.Context, w io.Writer, entries []Resource) (Summary, error) {
	digester := digest.Canonical.Digester()
	counter := &countingWriter{}
	tw := tar.NewWriter(io.MultiWriter(w, digester.Hash(), counter))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Summary{}, &ArchiveError{Err: err}
		}
		if err := writeEntry(tw, e); err != nil {
			return Summary{}, err
		}
	}
	if err := tw.Close(); err != nil {
		return Summary{}, &ArchiveError{Err: err}
	}

	return Summary{
		Entries: len(entries),
		Size:    counter.n,
		Digest:  digester.Digest(),
	}, nil
}

func writeEntry(tw *tar.Writer, e Resource) error {
	fail := func(err error) error {
		return &ArchiveError{Name: e.Name, Path: e.Path, Err: err}
	}

	f, err := os.Open(e.Path)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if !info.Mode().IsRegular() {
		return fail(ErrUnsupportedSource)
	}

	// owner, group and sub-second times are dropped so output only depends on
	// names, permissions, whole-second mtimes and content
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime().UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fail(err)
	}
	if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("file shrank below %d bytes while archiving: %w", hdr.Size, io.ErrUnexpectedEOF)
		}
		return fail(err)
	}
	return nil
}

func logEntryArchived(root string, sum Summary, took time.Duration) logger.LogEntry {
	return logger.LogEntry{
		Level:    logger.LevelInfo,
		Msg:      "build context archived",
		Duration: took,
		Vars: map[string]interface{}{
			"root":    root,
			"entries": sum.Entries,
			"size":    humanSize(sum.Size),
			"digest":  sum.Digest.String(),
		},
	}
}
