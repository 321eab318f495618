package dockerfile

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Basic(t *testing.T) {
	directives, err := Parse([]string{
		"# base image",
		"FROM busybox",
		"",
		"  add app.jar /app.jar  ",
		"CMD [\"java\", \"-jar\", \"/app.jar\"]",
	})
	require.NoError(t, err)
	require.Len(t, directives, 3)

	assert.Equal(t, "FROM", directives[0].Command)
	assert.Equal(t, []string{"busybox"}, directives[0].Args)
	assert.Equal(t, 2, directives[0].Line)

	add := directives[1]
	assert.Equal(t, CommandAdd, add.Command)
	assert.True(t, add.IsInclusion())
	assert.Equal(t, []string{"app.jar", "/app.jar"}, add.Args)
	assert.Equal(t, "app.jar", add.Source())
	assert.Equal(t, 4, add.Line)
	assert.Equal(t, "add app.jar /app.jar", add.Raw)

	assert.False(t, directives[2].IsInclusion())
	assert.Empty(t, directives[2].Source())
}

func TestParse_TabsSeparateArguments(t *testing.T) {
	directives, err := Parse([]string{"ADD\tsrc\t/dst"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "/dst"}, directives[0].Args)
}

func TestParse_UnknownCommandsAreOpaque(t *testing.T) {
	directives, err := Parse([]string{"FROBNICATE a b c d", "ADDITIONAL x"})
	require.NoError(t, err)
	require.Len(t, directives, 2)
	assert.Equal(t, "FROBNICATE", directives[0].Command)
	assert.Equal(t, []string{"a", "b", "c", "d"}, directives[0].Args)
	// a command that merely starts with ADD is not an inclusion
	assert.Equal(t, "ADDITIONAL", directives[1].Command)
	assert.False(t, directives[1].IsInclusion())
}

func TestParse_MalformedInclusion(t *testing.T) {
	cases := map[string]string{
		"missing destination": "ADD app.jar",
		"too many arguments":  "ADD a b c",
		"bare command":        "add",
		"empty json form":     "ADD []",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]string{"FROM busybox", line})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedDirective))

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, 2, perr.Line)
			assert.Equal(t, line, perr.Text)
		})
	}
}

func TestParse_EmptyBuildFile(t *testing.T) {
	cases := map[string][]string{
		"no lines":      nil,
		"blank lines":   {"", "   ", "\t"},
		"only comments": {"# nothing", "   # here"},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(lines)
			assert.ErrorIs(t, err, ErrEmptyBuildFile)
		})
	}
}

func TestParse_LineContinuation(t *testing.T) {
	directives, err := Parse([]string{
		"RUN apt-get update && \\",
		"    # comments inside a continuation are dropped",
		"    apt-get install -y curl",
		"ADD \\",
		"  conf \\",
		"  /etc/conf",
	})
	require.NoError(t, err)
	require.Len(t, directives, 2)

	assert.Equal(t, "RUN", directives[0].Command)
	assert.Equal(t, 1, directives[0].Line)
	assert.Equal(t, "RUN apt-get update && apt-get install -y curl", directives[0].Raw)

	assert.Equal(t, 4, directives[1].Line)
	assert.Equal(t, []string{"conf", "/etc/conf"}, directives[1].Args)
}

func TestParse_TrailingContinuationIsFlushed(t *testing.T) {
	directives, err := Parse([]string{"ADD a b \\"})
	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Equal(t, []string{"a", "b"}, directives[0].Args)
}

func TestParse_JSONInclusionForm(t *testing.T) {
	directives, err := Parse([]string{`ADD ["my file.txt", "/opt/my file.txt"]`})
	require.NoError(t, err)
	assert.Equal(t, []string{"my file.txt", "/opt/my file.txt"}, directives[0].Args)
}

func TestParseReader(t *testing.T) {
	directives, err := ParseReader(strings.NewReader("FROM scratch\r\nADD a /a\n"))
	require.NoError(t, err)
	require.Len(t, directives, 2)
	assert.Equal(t, []string{"a", "/a"}, directives[1].Args)
}

func TestDirective_String(t *testing.T) {
	assert.Equal(t, "ADD a /b", Directive{Command: "ADD", Args: []string{"a", "/b"}}.String())
	assert.Equal(t, "HEALTHCHECK", Directive{Command: "HEALTHCHECK"}.String())
}
