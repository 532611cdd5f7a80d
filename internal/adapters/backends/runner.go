package backends

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// lineParser extracts the human-readable increment from one stdout line, or
// reports that the line carries nothing worth previewing.
type lineParser func(line string) (text string, ok bool)

// runStreaming spawns the CLI, feeds each stdout line through parse, and
// invokes onProgress with the cumulative text so far. It blocks until the
// process exits; per-job progress ordering follows from that. On a
// non-zero exit the returned error carries stderr, falling back to the
// accumulated stdout when stderr is empty.
func runStreaming(ctx context.Context, logger *slog.Logger, name string, args []string, parse lineParser, onProgress func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: capture stdout: %w", name, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: spawn failed: %w", name, err)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("backend output line", "backend", name, "line", line)
		text, ok := parse(line)
		if !ok {
			continue
		}
		accumulated.WriteString(text)
		accumulated.WriteByte('\n')
		if onProgress != nil {
			onProgress(strings.TrimSpace(accumulated.String()))
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("%s: read stdout: %w", name, err)
	}

	if err := cmd.Wait(); err != nil {
		diagnostic := strings.TrimSpace(stderr.String())
		if diagnostic == "" {
			diagnostic = strings.TrimSpace(accumulated.String())
		}
		if diagnostic == "" {
			diagnostic = err.Error()
		}
		return fmt.Errorf("%s failed: %s", name, diagnostic)
	}
	return nil
}

// rawLine passes every stdout line straight through to the preview.
func rawLine(line string) (string, bool) {
	return line, true
}
