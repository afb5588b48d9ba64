package tracker

import (
	"context"
	"fmt"
	"log/slog"
)

// Config selects and parameterises the tracker backend. The backend is chosen
// once at startup; everything downstream depends only on the Tracker interface.
type Config struct {
	Backend string // "github" or "linear"

	// GitHub backend.
	GitHubToken string
	GitHubOwner string
	GitHubRepo  string

	// Linear backend.
	LinearAPIKey string
	LinearTeamID string
}

// New builds the configured backend adapter wrapped in the retry policy.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Tracker, error) {
	switch cfg.Backend {
	case "github":
		if cfg.GitHubToken == "" || cfg.GitHubOwner == "" || cfg.GitHubRepo == "" {
			return nil, fmt.Errorf("github tracker requires token, owner and repo")
		}
		return WithRetry(NewGitHub(ctx, cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo), log), nil

	case "linear":
		if cfg.LinearAPIKey == "" || cfg.LinearTeamID == "" {
			return nil, fmt.Errorf("linear tracker requires api key and team id")
		}
		return WithRetry(NewLinear(cfg.LinearAPIKey, cfg.LinearTeamID), log), nil

	default:
		return nil, fmt.Errorf("unknown tracker backend %q (want github or linear)", cfg.Backend)
	}
}
