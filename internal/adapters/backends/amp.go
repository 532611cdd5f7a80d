package backends

import (
	"context"
	"encoding/json"
	"log/slog"

	"genforge/internal/core/domain"
)

// Amp drives the `amp` CLI in execute mode with JSON streaming. Messages
// with a top-level "content" string feed the preview; everything else is
// protocol noise.
type Amp struct {
	logger *slog.Logger
}

func NewAmp(logger *slog.Logger) *Amp {
	return &Amp{logger: logger.With("backend", "amp")}
}

func (a *Amp) Name() string { return "amp" }

func (a *Amp) Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(string)) error {
	a.logger.Info("spawning amp CLI", "job_id", job.ID, "file", job.File)

	args := []string{
		"--execute", Prompt(job, fileContent),
		"--stream-json",
	}
	return runStreaming(ctx, a.logger, "amp", args, parseAmpLine, onProgress)
}

func parseAmpLine(line string) (string, bool) {
	var msg struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return "", false
	}
	return msg.Content, msg.Content != ""
}
