package buildctx

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HershyOrg/dockhand/dockerfile"
	"github.com/HershyOrg/dockhand/logger"
)

type tarEntry struct {
	Name string
	Mode int64
	Body string
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
}

func readTar(t *testing.T, r io.Reader) []tarEntry {
	t.Helper()
	var out []tarEntry
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, tarEntry{Name: hdr.Name, Mode: hdr.Mode, Body: string(body)})
	}
}

func names(entries []tarEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func resourceNames(res []Resource) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Name
	}
	return out
}

func buildBytes(t *testing.T, root string, opts ...Option) ([]byte, Summary) {
	t.Helper()
	p, err := Prepare(context.Background(), root, opts...)
	require.NoError(t, err)
	var buf bytes.Buffer
	sum, err := p.Write(context.Background(), &buf)
	require.NoError(t, err)
	return buf.Bytes(), sum
}

func TestOpen(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrContextNotFound)
	})

	t.Run("root is a file", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"file": "x"})
		_, err := Open(filepath.Join(root, "file"))
		assert.ErrorIs(t, err, ErrContextNotDirectory)
	})

	t.Run("missing directive file", func(t *testing.T) {
		_, err := Open(t.TempDir())
		assert.ErrorIs(t, err, ErrMissingDirectiveFile)
		var cerr *ContextError
		assert.True(t, errors.As(err, &cerr))
	})

	t.Run("directive file is a directory", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, dockerfile.FileName), 0755))
		_, err := Open(root)
		assert.ErrorIs(t, err, ErrMissingDirectiveFile)
	})

	t.Run("symlinked directive file outside root", func(t *testing.T) {
		base := t.TempDir()
		root := filepath.Join(base, "ctx")
		writeTree(t, base, map[string]string{"outside/secret": "FROM scratch\n# secret\n"})
		require.NoError(t, os.Mkdir(root, 0755))
		require.NoError(t, os.Symlink(filepath.Join(base, "outside", "secret"), filepath.Join(root, dockerfile.FileName)))

		_, err := Open(root)
		assert.ErrorIs(t, err, ErrSourceOutsideContext)
		var cerr *ContextError
		assert.True(t, errors.As(err, &cerr))

		// nothing is archived either
		_, err = Prepare(context.Background(), root)
		assert.ErrorIs(t, err, ErrSourceOutsideContext)
	})

	t.Run("symlinked directive file inside root", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"build/Dockerfile.app": "FROM scratch\n"})
		require.NoError(t, os.Symlink(filepath.Join(root, "build", "Dockerfile.app"), filepath.Join(root, dockerfile.FileName)))

		c, err := Open(root)
		require.NoError(t, err)
		assert.Equal(t, "Dockerfile", c.DirectiveResource().Name)
	})

	t.Run("valid", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"Dockerfile": "FROM scratch\n"})
		c, err := Open(root)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(c.Root))
		assert.Equal(t, "Dockerfile", c.DirectiveResource().Name)
	})
}

func TestBuild_SingleFileInclusion(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile": "ADD app.jar /app.jar\n",
		"app.jar":    "jar-bytes",
		"unused.txt": "not referenced",
	})

	a, err := Build(context.Background(), root, NewSpool(t.TempDir()))
	require.NoError(t, err)
	defer a.Close()

	entries := readTar(t, a)
	require.Len(t, entries, 2)
	assert.Equal(t, "Dockerfile", entries[0].Name)
	assert.Equal(t, "ADD app.jar /app.jar\n", entries[0].Body)
	assert.Equal(t, "app.jar", entries[1].Name)
	assert.Equal(t, "jar-bytes", entries[1].Body)
	assert.Equal(t, int64(0644), entries[1].Mode)
	assert.Equal(t, 2, a.Entries)
}

func TestBuild_NoInclusionsOnlyDirectiveFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile": "FROM busybox\nRUN echo hi\nCMD [\"sh\"]\n",
		"other/file": "ignored",
	})

	data, sum := buildBytes(t, root)
	entries := readTar(t, bytes.NewReader(data))
	assert.Equal(t, []string{"Dockerfile"}, names(entries))
	assert.Equal(t, 1, sum.Entries)
}

func TestBuild_DirectoryInclusion(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile":         "FROM scratch\nADD conf /etc/conf\nADD bin/tool /usr/bin/tool\n",
		"conf/b.yaml":        "b",
		"conf/a.yaml":        "a",
		"conf/nested/c.yaml": "c",
		"conf/a.d/z.yaml":    "z",
		"bin/tool":           "#!/bin/sh",
	})
	require.NoError(t, os.Chmod(filepath.Join(root, "bin", "tool"), 0755))

	data, _ := buildBytes(t, root)
	entries := readTar(t, bytes.NewReader(data))
	assert.Equal(t, []string{
		"Dockerfile",
		"conf/a.d/z.yaml",
		"conf/a.yaml",
		"conf/b.yaml",
		"conf/nested/c.yaml",
		"bin/tool",
	}, names(entries))
	assert.Equal(t, int64(0755), entries[5].Mode)
	assert.Equal(t, "c", entries[4].Body)
}

func TestBuild_ContextRootInclusionDoesNotDuplicate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile": "ADD . /src\nADD main.go /src/main.go\n",
		"main.go":    "package main",
		"go.mod":     "module x",
	})

	data, _ := buildBytes(t, root)
	assert.Equal(t, []string{"Dockerfile", "go.mod", "main.go"}, names(readTar(t, bytes.NewReader(data))))
}

func TestBuild_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile":   "ADD src /src\n",
		"src/a.txt":    "alpha",
		"src/b/c.txt":  "gamma",
		"src/b/d.json": "{}",
	})

	first, sum1 := buildBytes(t, root)
	second, sum2 := buildBytes(t, root)
	assert.Equal(t, first, second)
	assert.Equal(t, sum1.Digest, sum2.Digest)
	assert.Equal(t, digest.FromBytes(first), sum1.Digest)
	assert.Equal(t, int64(len(first)), sum1.Size)
}

func TestBuild_ResolutionFailures(t *testing.T) {
	outside := t.TempDir()
	writeTree(t, outside, map[string]string{"secret": "s3cr3t"})

	cases := []struct {
		name       string
		dockerfile string
		setup      func(t *testing.T, root string)
		want       error
	}{
		{name: "absolute path", dockerfile: "ADD /etc/passwd /x\n", want: ErrUnsafeAbsoluteSource},
		{name: "absolute file url", dockerfile: "ADD file:///etc/passwd /x\n", want: ErrUnsafeAbsoluteSource},
		{name: "parent escape", dockerfile: "ADD ../secret /x\n", want: ErrSourceOutsideContext},
		{name: "nested parent escape", dockerfile: "ADD sub/../../secret /x\n", want: ErrSourceOutsideContext},
		{name: "missing source", dockerfile: "ADD nope.jar /x\n", want: ErrSourceNotFound},
		{
			name:       "symlink escape",
			dockerfile: "ADD link /x\n",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link")))
			},
			want: ErrSourceOutsideContext,
		},
		{
			name:       "symlink escape inside directory",
			dockerfile: "ADD dir /x\n",
			setup: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{"dir/ok.txt": "ok"})
				require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "dir", "leak")))
			},
			want: ErrSourceOutsideContext,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"Dockerfile": tc.dockerfile})
			if tc.setup != nil {
				tc.setup(t, root)
			}
			spool := NewSpool(t.TempDir())

			a, err := Build(context.Background(), root, spool)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.ErrorIs(t, err, tc.want)

			var rerr *ResolutionError
			assert.True(t, errors.As(err, &rerr))

			pending, err := spool.Pending()
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestBuild_MissingDirectiveFileFailsBeforeParsing(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app.jar": "x"})

	_, err := Build(context.Background(), root, NewSpool(t.TempDir()))
	assert.ErrorIs(t, err, ErrMissingDirectiveFile)
	var perr *dockerfile.ParseError
	assert.False(t, errors.As(err, &perr))
}

func TestBuild_ParseErrors(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"Dockerfile": ""})
		_, err := Prepare(context.Background(), root)
		assert.ErrorIs(t, err, dockerfile.ErrEmptyBuildFile)
	})

	t.Run("malformed inclusion", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"Dockerfile": "FROM x\nADD only-one\n"})
		_, err := Prepare(context.Background(), root)
		assert.ErrorIs(t, err, dockerfile.ErrMalformedDirective)
	})
}

func TestBuild_RemoteSourcesAreSkipped(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile": "ADD https://example.com/app.tar.gz /app\nADD local.txt /local.txt\n",
		"local.txt":  "here",
	})

	core, logs := observer.New(zapcore.DebugLevel)
	p, err := Prepare(context.Background(), root, WithLogger(logger.FromZap("buildctx", zap.New(core))))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dockerfile", "local.txt"}, resourceNames(p.Entries()))
	assert.Equal(t, 1, logs.FilterMessage("skipping remote source").Len())
}

func TestBuild_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile":            "ADD . /src\n",
		".dockerignore":         "*.log\nnode_modules\n!keep.log\nDockerfile\n",
		"app.js":                "x",
		"debug.log":             "noise",
		"keep.log":              "kept",
		"node_modules/dep.js":   "dep",
		"lib/util.js":           "u",
		"lib/node_modules/x.js": "nested modules are not matched by a root pattern",
	})

	data, _ := buildBytes(t, root)
	assert.Equal(t, []string{
		"Dockerfile",
		".dockerignore",
		"app.js",
		"keep.log",
		"lib/node_modules/x.js",
		"lib/util.js",
	}, names(readTar(t, bytes.NewReader(data))))

	t.Run("disabled", func(t *testing.T) {
		data, _ := buildBytes(t, root, WithoutIgnoreFile())
		assert.Contains(t, names(readTar(t, bytes.NewReader(data))), "debug.log")
	})
}

func TestArchive_FailureDiscardsPartialOutput(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile": "ADD data /data\n",
		"data/a.bin": "aaaa",
		"data/b.bin": "bbbb",
	})
	p, err := Prepare(context.Background(), root)
	require.NoError(t, err)

	// the file vanishes between resolution and archiving
	require.NoError(t, os.Remove(filepath.Join(root, "data", "b.bin")))

	spool := NewSpool(t.TempDir())
	a, err := p.Archive(context.Background(), spool)
	require.Error(t, err)
	assert.Nil(t, a)

	var aerr *ArchiveError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "data/b.bin", aerr.Name)

	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestArchive_CloseRemovesSpoolFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"Dockerfile": "FROM scratch\n"})
	spool := NewSpool(t.TempDir())

	a, err := Build(context.Background(), root, spool)
	require.NoError(t, err)
	pending, _ := spool.Pending()
	assert.Equal(t, []string{a.Path()}, pending)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	pending, _ = spool.Pending()
	assert.Empty(t, pending)
}

type failingWriter struct {
	budget int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) > w.budget {
		return 0, errors.New("disk full")
	}
	w.budget -= len(p)
	return len(p), nil
}

func TestWriteArchive_WriterFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"Dockerfile": "FROM scratch\n"})

	_, err := WriteArchive(context.Background(), &failingWriter{budget: 10}, []Resource{
		{Path: filepath.Join(root, "Dockerfile"), Name: "Dockerfile"},
	})
	var aerr *ArchiveError
	assert.True(t, errors.As(err, &aerr))
}

func TestWriteArchive_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"Dockerfile": "FROM scratch\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteArchive(ctx, io.Discard, []Resource{{Path: filepath.Join(root, "Dockerfile"), Name: "Dockerfile"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepare_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"Dockerfile": "FROM scratch\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Prepare(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	var cerr *ContextError
	assert.True(t, errors.As(err, &cerr))
}
