package backends

import (
	"context"
	"log/slog"

	"genforge/internal/core/domain"
)

// Claude drives the `claude` CLI in non-interactive print mode. It streams
// plain text status lines, so every line feeds the preview.
type Claude struct {
	logger *slog.Logger
	model  string
}

func NewClaude(logger *slog.Logger, model string) *Claude {
	if model == "" {
		model = "sonnet"
	}
	return &Claude{
		logger: logger.With("backend", "claude"),
		model:  model,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(string)) error {
	c.logger.Info("spawning claude CLI",
		"job_id", job.ID,
		"file", job.File,
		"line", job.Target.Start.Line,
		"model", c.model)

	args := []string{
		"-p", Prompt(job, fileContent),
		"--output-format", "text",
		"--model", c.model,
		"--dangerously-skip-permissions",
	}
	return runStreaming(ctx, c.logger, "claude", args, rawLine, onProgress)
}
