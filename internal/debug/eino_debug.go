package debug

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino-ext/devops"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
)

// Init starts the eino visual debug server when enabled. Chains compiled
// afterwards (the per-role prompt chains) show up in the devops UI.
func Init(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bool, error) {
	if !cfg.EinoDebugEnabled {
		return false, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := devops.Init(ctx, devops.WithDevServerPort(strconv.Itoa(cfg.EinoDebugPort))); err != nil {
		return false, fmt.Errorf("init eino debug plugin: %w", err)
	}
	logger.Info("eino debug server started", zap.String("url", URL(cfg)))
	return true, nil
}

func URL(cfg *config.Config) string {
	if !cfg.EinoDebugEnabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", cfg.EinoDebugPort)
}
