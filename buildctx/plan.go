package buildctx

import (
	"context"
	"io"
	"time"

	"github.com/docker/go-units"

	"github.com/HershyOrg/dockhand/dockerfile"
)

// Plan is the ordered, de-duplicated entry set of one build context.
type Plan struct {
	Root          string
	DirectiveFile Resource
	Resources     []Resource // resolver order, directive file excluded
	Directives    []dockerfile.Directive

	opts options
}

// Prepare validates root, parses its directive file and resolves every inclusion
// directive. Nothing is written.
func Prepare(ctx context.Context, root string, opts ...Option) (*Plan, error) {
	o := newOptions(opts)

	c, err := Open(root)
	if err != nil {
		return nil, err
	}
	directives, err := c.ReadDirectives()
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Root:          c.Root,
		DirectiveFile: c.DirectiveResource(),
		Directives:    directives,
		opts:          o,
	}
	seen := map[string]bool{p.DirectiveFile.Name: true}

	r := NewResolver(c.Root, opts...)
	for _, d := range directives {
		if err := ctx.Err(); err != nil {
			return nil, &ContextError{Root: c.Root, Err: err}
		}
		resources, err := r.Resolve(d)
		if err != nil {
			return nil, err
		}
		for _, res := range resources {
			if seen[res.Name] {
				continue
			}
			seen[res.Name] = true
			p.Resources = append(p.Resources, res)
		}
	}
	return p, nil
}

// Entries returns the archive entries in write order: directive file first.
func (p *Plan) Entries() []Resource {
	entries := make([]Resource, 0, len(p.Resources)+1)
	entries = append(entries, p.DirectiveFile)
	return append(entries, p.Resources...)
}

// Write streams the plan's archive into w.
func (p *Plan) Write(ctx context.Context, w io.Writer) (Summary, error) {
	return WriteArchive(ctx, w, p.Entries())
}

// Archive writes the plan into a new spool file. On failure the partial file is removed.
func (p *Plan) Archive(ctx context.Context, s *Spool) (*Archive, error) {
	start := time.Now()

	f, err := s.Create()
	if err != nil {
		return nil, &ArchiveError{Err: err}
	}
	sum, err := p.Write(ctx, f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
		if err != nil {
			err = &ArchiveError{Err: err}
		}
	}
	if err != nil {
		if derr := s.Discard(f); derr != nil {
			p.opts.log.Error("failed to discard partial archive", map[string]interface{}{"path": f.Name(), "error": derr})
		}
		return nil, err
	}

	p.opts.log.Emit(logEntryArchived(p.Root, sum, time.Since(start)))
	return &Archive{file: f, spool: s, Summary: sum}, nil
}

// Build is Prepare followed by Archive.
func Build(ctx context.Context, root string, s *Spool, opts ...Option) (*Archive, error) {
	p, err := Prepare(ctx, root, opts...)
	if err != nil {
		return nil, err
	}
	return p.Archive(ctx, s)
}

func humanSize(n int64) string {
	return units.HumanSize(float64(n))
}
