package dockerfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineContinued // ends with a backslash, joins the next line
	lineCommand
)

type parseState int

const (
	stateStart parseState = iota
	stateContinuation
)

type parser struct {
	state      parseState
	buf        []string
	startLine  int
	directives []Directive
}

// Parse turns the lines of a directive file into directives, in order.
func Parse(lines []string) ([]Directive, error) {
	p := &parser{}
	for i, line := range lines {
		if err := p.feed(i+1, line); err != nil {
			return nil, err
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	if len(p.directives) == 0 {
		return nil, &ParseError{Err: ErrEmptyBuildFile}
	}
	return p.directives, nil
}

// ParseReader reads r to the end and parses it.
func ParseReader(r io.Reader) ([]Directive, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read build file: %w", err)
	}
	return Parse(lines)
}

func classify(trimmed string) lineKind {
	switch {
	case trimmed == "":
		return lineBlank
	case strings.HasPrefix(trimmed, "#"):
		return lineComment
	case strings.HasSuffix(trimmed, `\`):
		return lineContinued
	default:
		return lineCommand
	}
}

func (p *parser) feed(lineNo int, line string) error {
	trimmed := strings.TrimSpace(line)
	kind := classify(trimmed)

	switch kind {
	case lineBlank, lineComment:
		// skipped in both states; Docker also drops comments inside continuations
		return nil
	case lineContinued:
		if p.state == stateStart {
			p.startLine = lineNo
		}
		part := strings.TrimSpace(strings.TrimSuffix(trimmed, `\`))
		if part != "" {
			p.buf = append(p.buf, part)
		}
		p.state = stateContinuation
		return nil
	default:
		if p.state == stateStart {
			p.startLine = lineNo
		}
		p.buf = append(p.buf, trimmed)
		return p.flush()
	}
}

func (p *parser) finish() error {
	if p.state == stateContinuation {
		return p.flush()
	}
	return nil
}

func (p *parser) flush() error {
	logical := strings.Join(p.buf, " ")
	lineNo := p.startLine
	p.buf = p.buf[:0]
	p.state = stateStart

	if logical == "" {
		return nil
	}
	d, err := parseDirective(lineNo, logical)
	if err != nil {
		return err
	}
	p.directives = append(p.directives, d)
	return nil
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '\t'
}

func parseDirective(lineNo int, logical string) (Directive, error) {
	fields := strings.FieldsFunc(logical, isSeparator)
	d := Directive{
		Command: strings.ToUpper(fields[0]),
		Line:    lineNo,
		Raw:     logical,
	}

	rest := strings.TrimSpace(logical[len(fields[0]):])
	if d.IsInclusion() && strings.HasPrefix(rest, "[") {
		var args []string
		if err := json.Unmarshal([]byte(rest), &args); err == nil {
			d.Args = args
		}
	}
	if d.Args == nil && len(fields) > 1 {
		d.Args = fields[1:]
	}

	if d.IsInclusion() && len(d.Args) != 2 {
		return Directive{}, &ParseError{
			Line: lineNo,
			Text: logical,
			Err:  fmt.Errorf("%w: %s expects a source and a destination, got %d argument(s)", ErrMalformedDirective, CommandAdd, len(d.Args)),
		}
	}
	return d, nil
}
