package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"genforge/internal/core/domain"
)

// ScratchManager allocates and cleans up the per-job files the backend is
// instructed to write its final answer into. Scratch files live next to the
// source file so the backend sees the same project context, and carry the
// source extension so its editor tooling picks the right language.
type ScratchManager struct {
	logger *slog.Logger
	keep   bool
}

func NewScratchManager(logger *slog.Logger, keepFiles bool) *ScratchManager {
	return &ScratchManager{
		logger: logger.With("component", "scratch"),
		keep:   keepFiles,
	}
}

// PathFor builds the scratch path for a job. The file is not created; the
// backend process does that.
func (m *ScratchManager) PathFor(sourceFile string, jobID domain.JobID) string {
	dir := filepath.Dir(sourceFile)
	ext := filepath.Ext(sourceFile)
	short := string(jobID)
	if i := strings.IndexByte(short, '-'); i > 0 {
		short = short[:i]
	}
	return filepath.Join(dir, fmt.Sprintf(".genforge_%s%s", short, ext))
}

// Read returns the scratch file's content. A missing, unreadable or empty
// file is domain.ErrScratchUnreadable: a clean backend exit without real
// output is a failure, not a success.
func (m *ScratchManager) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrScratchUnreadable, err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrScratchUnreadable
	}
	return text, nil
}

// Cleanup deletes the scratch file unless the keep flag is set.
func (m *ScratchManager) Cleanup(path string) {
	if m.keep {
		m.logger.Debug("keeping scratch file", "path", path)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove scratch file", "path", path, "error", err)
	}
}
