// Package config loads kernel configuration from a YAML file with
// environment variable overrides, and supports hot-reload on file change.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"genforge/internal/core/domain"
)

// Load reads configuration from the given YAML file, applies GENFORGE_*
// environment overrides, and validates the result. A missing file is not
// an error: defaults plus environment are used.
func Load(path string) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func Validate(cfg *domain.AppConfig) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.MaxConcurrentProcesses <= 0 {
		return fmt.Errorf("max_concurrent_processes must be positive")
	}
	switch cfg.Backend.Kind {
	case domain.BackendClaude, domain.BackendOpenCode, domain.BackendAmp:
	case domain.BackendSandbox:
		if cfg.Backend.SandboxImage == "" {
			return fmt.Errorf("backend.sandbox_image is required for the sandbox backend")
		}
		if len(cfg.Backend.SandboxCommand) == 0 {
			return fmt.Errorf("backend.sandbox_command is required for the sandbox backend")
		}
	default:
		return fmt.Errorf("unknown backend kind: %q", cfg.Backend.Kind)
	}
	if cfg.Reconcile.EchoLineTolerance < 0 {
		return fmt.Errorf("reconcile.echo_line_tolerance must not be negative")
	}
	if cfg.Reconcile.EchoDeclarationCount < 1 {
		return fmt.Errorf("reconcile.echo_declaration_count must be at least 1")
	}
	return nil
}

func applyEnv(cfg *domain.AppConfig) {
	if v := os.Getenv("GENFORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GENFORGE_HISTORY_DB"); v != "" {
		cfg.HistoryDBPath = v
	}
	if v := os.Getenv("GENFORGE_KEEP_SCRATCH"); v != "" {
		cfg.KeepScratchFiles = parseBool(v)
	}
	if v := os.Getenv("GENFORGE_MAX_PROCESSES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxConcurrentProcesses = n
		}
	}
	if v := os.Getenv("GENFORGE_BACKEND"); v != "" {
		cfg.Backend.Kind = domain.BackendKind(strings.ToLower(v))
	}
	if v := os.Getenv("GENFORGE_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("GENFORGE_ATTACH_URL"); v != "" {
		cfg.Backend.AttachURL = v
	}
	if v := os.Getenv("GENFORGE_SANDBOX_IMAGE"); v != "" {
		cfg.Backend.SandboxImage = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
