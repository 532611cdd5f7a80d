package backends

import (
	"log/slog"
	"os"

	"genforge/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func backendCfg(kind string) domain.BackendConfig {
	return domain.BackendConfig{Kind: domain.BackendKind(kind), Model: "sonnet"}
}
