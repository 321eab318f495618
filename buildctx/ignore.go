package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/HershyOrg/dockhand/dockerfile"
)

// IgnoreFileName holds exclusion patterns applied to directory expansions.
const IgnoreFileName = ".dockerignore"

type ignoreRules struct {
	pm *patternmatcher.PatternMatcher
}

// IgnorePatterns returns the patterns in root/.dockerignore, or nil when there is none.
func IgnorePatterns(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ContextError{Root: root, Err: err}
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, &ContextError{Root: root, Err: fmt.Errorf("%w: %v", ErrInvalidIgnoreFile, err)}
	}
	return patterns, nil
}

// loadIgnoreRules compiles root/.dockerignore. A missing or empty file yields nil rules.
func loadIgnoreRules(root string) (*ignoreRules, error) {
	patterns, err := IgnorePatterns(root)
	if err != nil || len(patterns) == 0 {
		return nil, err
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, &ContextError{Root: root, Err: fmt.Errorf("%w: %v", ErrInvalidIgnoreFile, err)}
	}
	return &ignoreRules{pm: pm}, nil
}

// excludes reports whether the archive name is excluded. The directive file never is.
func (r *ignoreRules) excludes(name string) (bool, error) {
	if r == nil || name == dockerfile.FileName {
		return false, nil
	}
	return r.pm.MatchesOrParentMatches(filepath.FromSlash(name))
}
