package backends

import (
	"context"
	"encoding/json"
	"log/slog"

	"genforge/internal/core/domain"
)

// OpenCode drives the `opencode` CLI. In JSON mode it emits newline-
// delimited events; only "text" events carry preview-worthy content:
//
//	{"type":"text","part":{"type":"text","text":"content"}}
type OpenCode struct {
	logger    *slog.Logger
	model     string
	attachURL string
}

func NewOpenCode(logger *slog.Logger, model, attachURL string) *OpenCode {
	return &OpenCode{
		logger:    logger.With("backend", "opencode"),
		model:     model,
		attachURL: attachURL,
	}
}

func (o *OpenCode) Name() string { return "opencode" }

func (o *OpenCode) Generate(ctx context.Context, job domain.Job, fileContent string, onProgress func(string)) error {
	o.logger.Info("spawning opencode CLI",
		"job_id", job.ID,
		"file", job.File,
		"model", o.model)

	args := []string{"run", "--format", "json"}
	if o.attachURL != "" {
		args = append(args, "--attach", o.attachURL)
	}
	if o.model != "" {
		args = append(args, "--model", o.model)
	}
	args = append(args, Prompt(job, fileContent))

	return runStreaming(ctx, o.logger, "opencode", args, parseOpenCodeLine, onProgress)
}

type openCodeEvent struct {
	Type string `json:"type"`
	Part *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"part"`
}

// parseOpenCodeLine extracts the text of a "text" event. Non-JSON lines
// pass through raw so a CLI running without JSON output still previews.
func parseOpenCodeLine(line string) (string, bool) {
	var event openCodeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return line, line != ""
	}
	if event.Type != "text" || event.Part == nil || event.Part.Type != "text" {
		return "", false
	}
	return event.Part.Text, event.Part.Text != ""
}
