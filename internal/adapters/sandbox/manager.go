package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"genforge/internal/core/domain"
)

const containerWorkdir = "/workspace"

// Manager runs the generation CLI inside a disposable container instead of
// directly on the host. Only the target file's directory is mounted, so the
// CLI can read the project context and write the scratch file but touch
// nothing else. Networking stays on: the CLI needs egress to its model API,
// so isolation here is filesystem-scoped.
type Manager struct {
	logger  *slog.Logger
	cli     *client.Client
	image   string
	command []string
	prompt  func(job domain.Job, fileContent string) string
}

func NewManager(logger *slog.Logger, img string, command []string, prompt func(domain.Job, string) string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("sandbox backend requires a command")
	}
	return &Manager{
		logger:  logger.With("backend", "sandbox"),
		cli:     cli,
		image:   img,
		command: command,
		prompt:  prompt,
	}, nil
}

func (m *Manager) Name() string { return "sandbox" }

func (m *Manager) Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(string)) error {
	hostDir := filepath.Dir(job.File)

	// Rewrite host paths in the job so the prompt references paths the
	// containerized CLI can actually see.
	contained := job
	contained.File = filepath.Join(containerWorkdir, filepath.Base(job.File))
	contained.ScratchPath = filepath.Join(containerWorkdir, filepath.Base(job.ScratchPath))
	prompt := m.prompt(contained, fileContent)

	cfg := &container.Config{
		Image:      m.image,
		Cmd:        append(append([]string{}, m.command...), prompt),
		WorkingDir: containerWorkdir,
		Tty:        false,
		OpenStdin:  false,
		Labels: map[string]string{
			"genforge.managed": "true",
			"genforge.job_id":  string(job.ID),
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: hostDir,
				Target: containerWorkdir,
			},
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,size=64m",
		},
		AutoRemove: false,
	}
	netCfg := &network.NetworkingConfig{}

	name := "genforge-job-" + string(job.ID)
	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := m.cli.ImagePull(ctx, m.image, image.PullOptions{})
		if pullErr != nil {
			return fmt.Errorf("pull image %s: %w", m.image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = m.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	}
	if err != nil {
		return fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		_ = m.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start sandbox container: %w", err)
	}
	m.logger.Info("sandbox container started", "job_id", job.ID, "container", resp.ID[:12])

	logs, err := m.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach sandbox logs: %w", err)
	}
	defer logs.Close()

	pr, pw := io.Pipe()
	go func() {
		// Docker multiplexes stdout/stderr on one stream.
		_, copyErr := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(copyErr)
	}()

	var accumulated strings.Builder
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		accumulated.WriteString(scanner.Text())
		accumulated.WriteByte('\n')
		if onProgress != nil {
			onProgress(strings.TrimSpace(accumulated.String()))
		}
	}

	waitCh, errCh := m.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		if status.StatusCode != 0 {
			diagnostic := strings.TrimSpace(accumulated.String())
			if diagnostic == "" {
				diagnostic = fmt.Sprintf("exit code %d", status.StatusCode)
			}
			return fmt.Errorf("sandbox failed: %s", diagnostic)
		}
	case err := <-errCh:
		return fmt.Errorf("wait for sandbox container: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("sandbox container finished", "job_id", job.ID)
	return nil
}
