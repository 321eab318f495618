package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/HershyOrg/dockhand/dockerfile"
	"github.com/HershyOrg/dockhand/logger"
)

// Resource is one file that goes into the archive.
type Resource struct {
	Path string // absolute path the content is read from
	Name string // root-relative, forward-slash entry name
}

// Resolver resolves inclusion directives against one context root. It caches the
// .dockerignore rules, so use one Resolver per build and not concurrently.
type Resolver struct {
	root   string
	log    *logger.Logger
	ignore *ignoreRules
	useIgn bool
	loaded bool
}

// NewResolver returns a Resolver for root, which must be absolute with symlinks evaluated
// (as Context.Root is).
func NewResolver(root string, opts ...Option) *Resolver {
	o := newOptions(opts)
	return &Resolver{root: root, log: o.log, useIgn: o.useIgnoreFile}
}

// Resolve is the one-shot form of (*Resolver).Resolve for an arbitrary root.
func Resolve(d dockerfile.Directive, root string, opts ...Option) ([]Resource, error) {
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
	return NewResolver(canon, opts...).Resolve(d)
}

// Resolve returns the resources named by d. Directives other than ADD, and remote
// sources, resolve to nothing.
func (r *Resolver) Resolve(d dockerfile.Directive) ([]Resource, error) {
	if !d.IsInclusion() {
		return nil, nil
	}
	src := d.Source()
	fail := func(err error) ([]Resource, error) {
		return nil, &ResolutionError{Source: src, Line: d.Line, Err: err}
	}

	local, ok, err := localPath(src)
	if err != nil {
		return fail(err)
	}
	if !ok {
		r.log.Debug("skipping remote source", map[string]interface{}{"source": src, "line": d.Line})
		return nil, nil
	}

	// decided lexically; an absolute path is never touched
	if isAbsolute(local) {
		return fail(ErrUnsafeAbsoluteSource)
	}
	joined := filepath.Join(r.root, filepath.FromSlash(local))
	rel, ok := relativeTo(r.root, joined)
	if !ok {
		return fail(ErrSourceOutsideContext)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(ErrSourceNotFound)
		}
		return fail(err)
	}
	if _, ok := relativeTo(r.root, resolved); !ok {
		return fail(ErrSourceOutsideContext)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fail(err)
	}
	switch {
	case info.IsDir():
		res, err := r.expand(resolved, rel)
		if err != nil {
			var rerr *ResolutionError
			if errors.As(err, &rerr) {
				return nil, err
			}
			return fail(err)
		}
		return res, nil
	case info.Mode().IsRegular():
		return []Resource{{Path: resolved, Name: archiveName(rel)}}, nil
	default:
		return fail(ErrUnsupportedSource)
	}
}

// expand lists every file below dir. base is dir's root-relative name.
func (r *Resolver) expand(dir, base string) ([]Resource, error) {
	rules, err := r.ignoreRules()
	if err != nil {
		return nil, err
	}

	var out []Resource
	err = filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		inner, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := archiveName(filepath.Join(base, inner))
		excluded, err := rules.excludes(name)
		if err != nil {
			return err
		}
		if excluded {
			return nil
		}

		switch {
		case de.Type().IsRegular():
			out = append(out, Resource{Path: p, Name: name})
		case de.Type()&fs.ModeSymlink != 0:
			target, err := filepath.EvalSymlinks(p)
			if err != nil {
				return &ResolutionError{Source: name, Err: fmt.Errorf("%w: %v", ErrSourceNotFound, err)}
			}
			if _, ok := relativeTo(r.root, target); !ok {
				return &ResolutionError{Source: name, Err: ErrSourceOutsideContext}
			}
			info, err := os.Stat(target)
			if err != nil {
				return err
			}
			// symlinked directories are not followed
			if info.Mode().IsRegular() {
				out = append(out, Resource{Path: target, Name: name})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Resolver) ignoreRules() (*ignoreRules, error) {
	if !r.useIgn {
		return nil, nil
	}
	if !r.loaded {
		rules, err := loadIgnoreRules(r.root)
		if err != nil {
			return nil, err
		}
		r.ignore = rules
		r.loaded = true
	}
	return r.ignore, nil
}

// localPath classifies src. ok is false for remote (non-file scheme) sources.
func localPath(src string) (p string, ok bool, err error) {
	switch scheme := uriScheme(src); scheme {
	case "":
		return src, true, nil
	case "file":
		u, err := url.Parse(src)
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		if u.Opaque != "" {
			return u.Opaque, true, nil
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", false, fmt.Errorf("%w: file URL with host %q", ErrInvalidSource, u.Host)
		}
		return u.Path, true, nil
	default:
		return "", false, nil
	}
}

// uriScheme returns the lower-cased RFC 3986 scheme of s, or "" when s has none.
func uriScheme(s string) string {
	i := strings.IndexByte(s, ':')
	if i <= 0 || isDrivePath(s) {
		return ""
	}
	for j := 0; j < i; j++ {
		c := s[j]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(s[:i])
}

func isAbsolute(p string) bool {
	return filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) || isDrivePath(p)
}

// isDrivePath reports whether p starts with a drive letter such as `C:\` or "C:/".
func isDrivePath(p string) bool {
	if len(p) < 3 || p[1] != ':' || (p[2] != '\\' && p[2] != '/') {
		return false
	}
	c := p[0]
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

// relativeTo returns target relative to root, or false if target is outside root.
// root itself is inside.
func relativeTo(root, target string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func archiveName(rel string) string {
	return path.Clean(filepath.ToSlash(rel))
}
