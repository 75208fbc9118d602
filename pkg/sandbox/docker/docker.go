// Package docker implements sandbox.Sandbox using one labeled Docker
// container per session, with a host directory bind-mounted as the workspace.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/appforge/appforge/pkg/sandbox"
)

const (
	// LabelManager identifies containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "appforge"
	// LabelSessionID identifies which session a container belongs to.
	LabelSessionID = "session-id"

	// WorkspacePath is the workspace root inside the container.
	WorkspacePath = "/workspace"

	// probeInterval is how often the readiness monitor dials the app port.
	probeInterval = 500 * time.Millisecond
	// execPollInterval is how often Wait inspects a running exec.
	execPollInterval = 100 * time.Millisecond
)

// Factory creates per-session sandboxes sharing one Docker client.
type Factory struct {
	cli           *client.Client
	image         string
	appPort       string
	workspacesDir string
}

// NewFactory creates a Factory. image is the dev environment image, appPort
// the container port dev servers are expected to listen on, and workspacesDir
// the host directory under which per-session workspaces are created.
func NewFactory(image, appPort, workspacesDir string) (*Factory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Factory{
		cli:           cli,
		image:         image,
		appPort:       appPort,
		workspacesDir: workspacesDir,
	}, nil
}

// New creates an unbooted sandbox for the given session, allocating its host
// workspace directory.
func (f *Factory) New(sessionID string) (*Sandbox, error) {
	hostDir := filepath.Join(f.workspacesDir, sessionID)
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace dir: %w", err)
	}
	return &Sandbox{
		cli:       f.cli,
		sessionID: sessionID,
		image:     f.image,
		appPort:   f.appPort,
		hostDir:   hostDir,
		events:    make(chan sandbox.ServerReady, 8),
	}, nil
}

// Close releases the shared Docker client.
func (f *Factory) Close() error {
	return f.cli.Close()
}

// Sandbox is one session's container environment.
type Sandbox struct {
	cli       *client.Client
	sessionID string
	image     string
	appPort   string
	hostDir   string

	containerID string
	events      chan sandbox.ServerReady
	stopMonitor context.CancelFunc
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

func (s *Sandbox) containerName() string {
	return "appforge-sandbox-" + s.sessionID
}

// Boot creates and starts the container and begins watching the app port.
func (s *Sandbox) Boot(ctx context.Context) error {
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, s.image); err != nil {
		return fmt.Errorf("sandbox image %q not found, run 'make build-sandbox': %w", s.image, err)
	}

	cfg := &container.Config{
		Image: s.image,
		// The image entrypoint keeps the container alive; all work happens
		// through exec.
		Tty:        true,
		WorkingDir: WorkspacePath,
		Labels: map[string]string{
			LabelManager:   LabelManagerValue,
			LabelSessionID: s.sessionID,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(s.appPort + "/tcp"): {},
		},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{s.hostDir + ":" + WorkspacePath},
		PortBindings: nat.PortMap{
			nat.Port(s.appPort + "/tcp"): []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: "0"},
			},
		},
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, s.containerName())
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	s.containerID = resp.ID

	if err := s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}

	c, err := s.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("inspecting container: %w", err)
	}
	hostPort, err := s.mappedPort(c)
	if err != nil {
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.stopMonitor = cancel
	go s.monitorAppPort(monitorCtx, hostPort)

	slog.Info("Sandbox booted", "sessionID", s.sessionID, "container", s.containerName(), "appHostPort", hostPort)
	return nil
}

func (s *Sandbox) mappedPort(c types.ContainerJSON) (string, error) {
	ports := c.NetworkSettings.Ports[nat.Port(s.appPort+"/tcp")]
	if len(ports) == 0 {
		return "", fmt.Errorf("container running but app port not mapped")
	}
	return ports[0].HostPort, nil
}

// monitorAppPort probes the published app port and pushes a ServerReady event
// on each down-to-up transition. The binding side only ever sees pushes.
func (s *Sandbox) monitorAppPort(ctx context.Context, hostPort string) {
	addr := net.JoinHostPort("127.0.0.1", hostPort)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	reachable := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				reachable = false
				continue
			}
			conn.Close()
			if !reachable {
				reachable = true
				port, _ := strconv.Atoi(hostPort)
				ev := sandbox.ServerReady{Port: port, URL: "http://" + addr}
				select {
				case s.events <- ev:
				default:
					// Consumer lagging; a newer event supersedes anyway.
				}
			}
		}
	}
}

// ServerReady returns the reachable-server event channel.
func (s *Sandbox) ServerReady() <-chan sandbox.ServerReady {
	return s.events
}

// Spawn runs a command inside the container via exec-attach. The hijacked
// connection provides the stdin writer and the combined output reader.
func (s *Sandbox) Spawn(ctx context.Context, executable string, args []string, cwd string) (sandbox.Process, error) {
	if s.containerID == "" {
		return nil, fmt.Errorf("sandbox not booted")
	}

	exec, err := s.cli.ContainerExecCreate(ctx, s.containerID, types.ExecConfig{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		WorkingDir:   cwd,
		Cmd:          append([]string{executable}, args...),
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}

	return &process{cli: s.cli, execID: exec.ID, attach: attach}, nil
}

// process wraps one exec instance for its lifetime.
type process struct {
	cli    *client.Client
	execID string
	attach types.HijackedResponse
}

func (p *process) Input() io.Writer  { return p.attach.Conn }
func (p *process) Output() io.Reader { return p.attach.Reader }

// Wait polls the exec until it stops running, then closes the attachment.
func (p *process) Wait(ctx context.Context) (int, error) {
	defer p.attach.Close()

	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
			inspect, err := p.cli.ContainerExecInspect(ctx, p.execID)
			if err != nil {
				return -1, fmt.Errorf("inspecting exec: %w", err)
			}
			if !inspect.Running {
				return inspect.ExitCode, nil
			}
		}
	}
}

// hostPath maps a container-absolute workspace path onto the bind mount.
// Paths that resolve outside the workspace are rejected.
func (s *Sandbox) hostPath(p string) (string, error) {
	clean := path.Clean(p)
	if clean != WorkspacePath && !strings.HasPrefix(clean, WorkspacePath+"/") {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	rel := strings.TrimPrefix(clean, WorkspacePath)
	return filepath.Join(s.hostDir, filepath.FromSlash(rel)), nil
}

// WriteFile writes content to path, creating missing parent directories.
func (s *Sandbox) WriteFile(p string, content []byte) error {
	hp, err := s.hostPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(hp), 0755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	if err := os.WriteFile(hp, content, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// ReadFile returns the content of path.
func (s *Sandbox) ReadFile(p string) ([]byte, error) {
	hp, err := s.hostPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(hp)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// ReadDir lists the direct entries under path.
func (s *Sandbox) ReadDir(p string) ([]sandbox.Entry, error) {
	hp, err := s.hostPath(p)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(hp)
	if err != nil {
		return nil, fmt.Errorf("listing directory: %w", err)
	}
	entries := make([]sandbox.Entry, 0, len(dirents))
	for _, d := range dirents {
		entries = append(entries, sandbox.Entry{Name: d.Name(), IsDir: d.IsDir()})
	}
	return entries, nil
}

func (s *Sandbox) WorkspaceDir() string     { return WorkspacePath }
func (s *Sandbox) HostWorkspaceDir() string { return s.hostDir }

// Close stops the readiness monitor and removes the container. The host
// workspace directory is left for inspection.
func (s *Sandbox) Close() error {
	if s.stopMonitor != nil {
		s.stopMonitor()
	}
	if s.containerID == "" {
		return nil
	}
	err := s.cli.ContainerRemove(context.Background(), s.containerID, types.ContainerRemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}
