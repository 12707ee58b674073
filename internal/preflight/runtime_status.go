package preflight

import (
	"context"
	"strings"

	"intake/internal/config"
)

// CheckServerFromConfig evaluates lease server status from the [operator]
// section and connectivity.
func CheckServerFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Lease server"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Operator.ServerURL) == "" {
		return Result{Name: name, Detail: "Missing server_url"}
	}
	return CheckServer(ctx, cfg.Operator.ServerURL, cfg.Paths.APIToken)
}

// CheckHolderFromConfig reports whether an operator identity is configured.
func CheckHolderFromConfig(cfg *config.Config) Result {
	const name = "Operator"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if holder := strings.TrimSpace(cfg.Operator.Holder); holder != "" {
		return Result{Name: name, Passed: true, Detail: holder}
	}
	return Result{Name: name, Detail: "Missing holder (set [operator].holder or INTAKE_HOLDER)"}
}
