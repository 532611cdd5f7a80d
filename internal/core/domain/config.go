package domain

// BackendKind names one of the supported generation backends. The set is
// closed: selection happens once from configuration, not at call sites.
type BackendKind string

const (
	BackendClaude   BackendKind = "claude"
	BackendOpenCode BackendKind = "opencode"
	BackendAmp      BackendKind = "amp"
	BackendSandbox  BackendKind = "sandbox"
)

// BackendConfig configures the external generation process.
type BackendConfig struct {
	Kind  BackendKind `json:"kind" yaml:"kind"`
	Model string      `json:"model" yaml:"model"`
	// AttachURL is the opencode server to attach to, if any.
	AttachURL string `json:"attach_url" yaml:"attach_url"`
	// SandboxImage is the container image for the sandbox backend.
	SandboxImage string `json:"sandbox_image" yaml:"sandbox_image"`
	// SandboxCommand is the generation CLI invoked inside the container.
	SandboxCommand []string `json:"sandbox_command" yaml:"sandbox_command"`
}

// ReconcileConfig holds the best-effort heuristics tunables. The echo
// thresholds are deliberately configuration, not constants: they are tuned
// against fixed corpora rather than derived analytically.
type ReconcileConfig struct {
	// EchoLineTolerance: backend output whose line count is within this
	// distance of the whole file's is suspected to be a full-file echo.
	EchoLineTolerance int `json:"echo_line_tolerance" yaml:"echo_line_tolerance"`
	// EchoDeclarationCount: output containing at least this many declarations
	// besides the target is suspected to be a full-file echo.
	EchoDeclarationCount int `json:"echo_declaration_count" yaml:"echo_declaration_count"`
}

// AppConfig is the main application configuration.
type AppConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// HistoryDBPath is the DuckDB file for generation history. Empty
	// disables history recording.
	HistoryDBPath string `json:"history_db_path" yaml:"history_db_path"`
	// KeepScratchFiles preserves per-job scratch output for debugging.
	KeepScratchFiles bool `json:"keep_scratch_files" yaml:"keep_scratch_files"`
	// MaxConcurrentProcesses caps backend processes across all files.
	MaxConcurrentProcesses int64 `json:"max_concurrent_processes" yaml:"max_concurrent_processes"`

	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		ListenAddr:             ":8080",
		HistoryDBPath:          "genforge.db",
		KeepScratchFiles:       false,
		MaxConcurrentProcesses: 32,
		Backend: BackendConfig{
			Kind:  BackendClaude,
			Model: "sonnet",
		},
		Reconcile: ReconcileConfig{
			EchoLineTolerance:    5,
			EchoDeclarationCount: 2,
		},
	}
}
