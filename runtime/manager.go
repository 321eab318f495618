// Package runtime builds images and runs service containers on top of the daemon client.
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/moby/go-archive"

	"github.com/HershyOrg/dockhand/buildctx"
	"github.com/HershyOrg/dockhand/client"
	"github.com/HershyOrg/dockhand/daemon"
	"github.com/HershyOrg/dockhand/logger"
)

// ErrNoImageID is returned when a build finishes without reporting an image
var ErrNoImageID = errors.New("failed to extract image ID from build output")

// Manager handles image building and container lifecycle
type Manager struct {
	cli    *client.Client
	logger *logger.Logger

	// log followers outlive the Start call that spawned them
	followCtx    context.Context
	cancelFollow context.CancelFunc
	followers    sync.WaitGroup
}

// NewManager creates a Manager using cli. A nil logger discards output.
func NewManager(cli *client.Client, l *logger.Logger) *Manager {
	if l == nil {
		l = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cli:          cli,
		logger:       l.Named("runtime"),
		followCtx:    ctx,
		cancelFollow: cancel,
	}
}

// Close stops every log follower and waits for them to exit.
func (m *Manager) Close() error {
	m.cancelFollow()
	m.followers.Wait()
	return nil
}

// BuildOpts contains options for building an image
type BuildOpts struct {
	ContextPath  string // build context root, holding the Dockerfile
	Tag          string
	NoCache      bool
	BuildLogPath string    // optional file receiving the build output
	Output       io.Writer // optional live copy of the build output
}

// BuildResult contains the result of a build
type BuildResult struct {
	ImageID string
	Tag     string
}

// Build resolves the Dockerfile's inclusions under ContextPath and builds the result.
func (m *Manager) Build(ctx context.Context, opts BuildOpts) (*BuildResult, error) {
	s, err := m.cli.Build(ctx, opts.ContextPath, client.BuildOptions{
		Tag:     opts.Tag,
		NoCache: opts.NoCache,
		Remove:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build image: %w", err)
	}
	defer s.Close()
	return m.readBuildOutput(s, opts)
}

// BuildDirectory uploads the whole of ContextPath, minus .dockerignore exclusions,
// without resolving Dockerfile inclusions.
func (m *Manager) BuildDirectory(ctx context.Context, opts BuildOpts) (*BuildResult, error) {
	excludes, err := buildctx.IgnorePatterns(opts.ContextPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file: %w", err)
	}
	buildCtx, err := archive.TarWithOptions(opts.ContextPath, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	s, err := m.cli.BuildFromArchive(ctx, buildCtx, client.BuildOptions{
		Tag:     opts.Tag,
		NoCache: opts.NoCache,
		Remove:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build image: %w", err)
	}
	defer s.Close()
	return m.readBuildOutput(s, opts)
}

func (m *Manager) readBuildOutput(r io.Reader, opts BuildOpts) (*BuildResult, error) {
	var sinks []io.Writer
	if opts.Output != nil {
		sinks = append(sinks, opts.Output)
	}
	if opts.BuildLogPath != "" {
		logFile, err := os.Create(opts.BuildLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create build log file: %w", err)
		}
		defer logFile.Close()
		sinks = append(sinks, logFile)
	}
	out := io.MultiWriter(sinks...)

	var imageID string
	err := client.DecodeProgress(r, func(msg client.ProgressMessage) error {
		if msg.Stream != "" {
			fmt.Fprint(out, msg.Stream)
			m.logger.Emit(logger.LogEntry{
				Level:   logger.LevelDebug,
				LogType: "BUILD",
				Msg:     strings.TrimRight(msg.Stream, "\n"),
				Vars:    map[string]interface{}{"tag": opts.Tag},
			})
		}
		if id := msg.AuxID(); id != "" {
			imageID = id
		}
		return nil
	})
	if err != nil {
		var perr *client.ProgressError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("build error: %w", err)
		}
		return nil, fmt.Errorf("failed to decode build output: %w", err)
	}
	if imageID == "" {
		return nil, ErrNoImageID
	}

	m.logger.Info("image built", map[string]interface{}{"image_id": imageID, "tag": opts.Tag})
	return &BuildResult{ImageID: imageID, Tag: opts.Tag}, nil
}

// StartOpts contains options for starting a container
type StartOpts struct {
	Spec *ServiceSpec

	// LogPath, when set, receives the container's output as JSON log lines, followed
	// until the container exits or the Manager is closed.
	LogPath string
}

// StartResult contains the result of starting a container
type StartResult struct {
	ContainerID string
	Warnings    []string
}

// Start creates and starts a container from spec. A container that fails to start is
// removed again.
func (m *Manager) Start(ctx context.Context, opts StartOpts) (*StartResult, error) {
	if opts.Spec == nil {
		return nil, fmt.Errorf("%w: service spec is required", client.ErrInvalidArgument)
	}
	cfg, hostCfg, err := opts.Spec.ContainerConfig()
	if err != nil {
		return nil, err
	}

	var logPath string
	if opts.LogPath != "" {
		if logPath, err = prepareLogFile(opts.LogPath, opts.Spec.ContainerName); err != nil {
			return nil, err
		}
	}

	resp, err := m.cli.CreateContainer(ctx, cfg, hostCfg, opts.Spec.ContainerName)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := m.cli.StartContainer(ctx, resp.ID, nil); err != nil {
		if rerr := m.cli.RemoveContainer(ctx, resp.ID, true); rerr != nil {
			m.logger.Error("failed to remove container after failed start", map[string]interface{}{
				"container_id": resp.ID,
				"error":        rerr,
			})
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	m.logger.Info("container started", map[string]interface{}{"container_id": resp.ID, "image": cfg.Image})

	if logPath != "" {
		m.followers.Add(1)
		go func() {
			defer m.followers.Done()
			m.followLogs(resp.ID, logPath)
		}()
	}

	return &StartResult{ContainerID: resp.ID, Warnings: resp.Warnings}, nil
}

// prepareLogFile truncates the log file. A path without an extension is taken as a
// directory holding <name>/runtime.log.
func prepareLogFile(path, name string) (string, error) {
	if filepath.Ext(path) == "" {
		if name == "" {
			name = "container"
		}
		path = filepath.Join(path, name, "runtime.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create runtime log file: %w", err)
	}
	return path, f.Close()
}

// followLogs streams the container's output into path, one JSON entry per line.
func (m *Manager) followLogs(containerID, path string) {
	childLg, err := logger.New("runtime", io.Discard, path, logger.LevelDebug)
	if err != nil {
		m.logger.Error("failed to open container log", map[string]interface{}{"container_id": containerID, "error": err})
		return
	}
	childLg.SetDefaultLogType("PROGRAM")
	defer childLg.Close()

	s, err := m.cli.LogsStream(m.followCtx, containerID)
	if err != nil {
		childLg.Emit(logger.LogEntry{
			Level: logger.LevelError,
			Msg:   fmt.Sprintf("failed to stream logs: %v", err),
			Vars:  map[string]interface{}{"container_id": containerID},
		})
		return
	}
	defer s.Close()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var scanners sync.WaitGroup
	scan := func(stream string, r io.Reader) {
		defer scanners.Done()
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			childLg.Emit(logger.LogEntry{
				Level: logger.LevelInfo,
				Msg:   sc.Text(),
				Vars:  map[string]interface{}{"stream": stream, "container_id": containerID},
			})
		}
		if err := sc.Err(); err != nil {
			childLg.Emit(logger.LogEntry{
				Level: logger.LevelError,
				Msg:   fmt.Sprintf("%s scanner error: %v", stream, err),
				Vars:  map[string]interface{}{"stream": stream, "container_id": containerID},
			})
		}
	}
	scanners.Add(2)
	go scan("stdout", stdoutR)
	go scan("stderr", stderrR)

	if _, err := s.Demux(stdoutW, stderrW); err != nil && m.followCtx.Err() == nil {
		childLg.Emit(logger.LogEntry{
			Level: logger.LevelError,
			Msg:   fmt.Sprintf("error demuxing logs: %v", err),
			Vars:  map[string]interface{}{"container_id": containerID, "stream": "demux"},
		})
	}
	stdoutW.Close()
	stderrW.Close()
	scanners.Wait()
}

// Stop stops and removes a container. A container that is already gone is not an error.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	if err := m.cli.StopContainer(ctx, containerID, client.DefaultStopTimeout); err != nil {
		if daemon.IsNotFound(err) {
			return nil
		}
		// still try to remove it
		m.logger.Error("failed to stop container", map[string]interface{}{"container_id": containerID, "error": err})
	}

	if err := m.cli.RemoveContainer(ctx, containerID, false); err != nil && !daemon.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ContainerStatus returns the current status of a container, e.g. "running"
func (m *Manager) ContainerStatus(ctx context.Context, containerID string) (string, error) {
	inspect, err := m.cli.InspectContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.State == nil {
		return "", fmt.Errorf("container %s reported no state", containerID)
	}
	return string(inspect.State.Status), nil
}

// ContainerIP returns the first assigned IP address of a container
func (m *Manager) ContainerIP(ctx context.Context, containerID string) (string, error) {
	inspect, err := m.cli.InspectContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}

	if inspect.NetworkSettings != nil {
		names := make([]string, 0, len(inspect.NetworkSettings.Networks))
		for name := range inspect.NetworkSettings.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ep := inspect.NetworkSettings.Networks[name]
			if ep != nil && ep.IPAddress.IsValid() && !ep.IPAddress.IsUnspecified() {
				return ep.IPAddress.String(), nil
			}
		}
	}

	return "", fmt.Errorf("container has no IP address")
}

// IsRunning checks if a container is running
func (m *Manager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	status, err := m.ContainerStatus(ctx, containerID)
	if err != nil {
		return false, err
	}
	return status == "running", nil
}

// ContainerLogs returns the last tailLines lines of a container's output, stdout and
// stderr interleaved.
func (m *Manager) ContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error) {
	raw, err := m.cli.TailLogs(ctx, containerID, tailLines)
	if err != nil {
		return "", fmt.Errorf("failed to get container logs: %w", err)
	}

	var buf bytes.Buffer
	if _, err := daemon.NewStream(io.NopCloser(bytes.NewReader(raw))).Demux(&buf, &buf); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return buf.String(), nil
}
