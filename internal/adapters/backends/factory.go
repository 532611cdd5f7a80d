package backends

import (
	"fmt"
	"log/slog"

	"genforge/internal/adapters/sandbox"
	"genforge/internal/core/domain"
	"genforge/internal/core/ports"
)

// New builds the configured backend.
func New(logger *slog.Logger, cfg domain.BackendConfig) (ports.Backend, error) {
	switch cfg.Kind {
	case domain.BackendClaude, "":
		return NewClaude(logger, cfg.Model), nil
	case domain.BackendOpenCode:
		return NewOpenCode(logger, cfg.Model, cfg.AttachURL), nil
	case domain.BackendAmp:
		return NewAmp(logger), nil
	case domain.BackendSandbox:
		return sandbox.NewManager(logger, cfg.SandboxImage, cfg.SandboxCommand, Prompt)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
