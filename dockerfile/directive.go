// Package dockerfile parses build-instruction files into directives.
//
// Only the inclusion command (ADD) has resolution semantics; every other command is kept
// as an opaque directive so the file can be shipped to the daemon unmodified.
package dockerfile

import (
	"errors"
	"fmt"
	"strings"
)

// FileName is the directive file expected at the root of a build context.
const FileName = "Dockerfile"

// CommandAdd is the inclusion command. It takes exactly a source and a destination.
const CommandAdd = "ADD"

var (
	ErrEmptyBuildFile     = errors.New("build file has no directives")
	ErrMalformedDirective = errors.New("malformed directive")
)

type Directive struct {
	Command string   // upper-cased
	Args    []string
	Line    int    // first physical line, 1-based
	Raw     string // logical line after trimming and joining continuations
}

// IsInclusion reports whether d names a resource to copy into the build context.
func (d Directive) IsInclusion() bool {
	return d.Command == CommandAdd
}

// Source returns the source argument of an inclusion directive.
func (d Directive) Source() string {
	if !d.IsInclusion() || len(d.Args) == 0 {
		return ""
	}
	return d.Args[0]
}

func (d Directive) String() string {
	if len(d.Args) == 0 {
		return d.Command
	}
	return d.Command + " " + strings.Join(d.Args, " ")
}

type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse: %v", e.Err)
	}
	return fmt.Sprintf("parse: line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
