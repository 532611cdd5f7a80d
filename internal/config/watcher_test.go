package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/core/domain"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":8080\"\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := NewWatcher(logger, path)
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *domain.AppConfig, 1)
	w.OnChange(func(cfg *domain.AppConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":9999", cfg.ListenAddr)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload callback never fired")
	}
}

func TestWatcher_KeepsPreviousOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":8080\"\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := NewWatcher(logger, path)
	require.NoError(t, err)
	defer w.Close()

	called := make(chan struct{}, 1)
	w.OnChange(func(*domain.AppConfig) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [broken"), 0o644))

	select {
	case <-called:
		t.Fatal("broken config must not trigger callbacks")
	case <-time.After(700 * time.Millisecond):
	}
}
