package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stewardhq/steward/internals/audit"
	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/notify"
	"github.com/stewardhq/steward/internals/tracker"
)

// The auditor actor: one health digest per invocation.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	repoURL := mustEnv(log, "REPO_URL")
	backend := mustEnv(log, "TRACKER_BACKEND")
	slackToken := mustEnv(log, "SLACK_BOT_TOKEN")
	slackChannel := mustEnv(log, "SLACK_NOTIFY_CHANNEL")
	policyFile := envOr("POLICY_FILE", "steward.json")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := config.Load(policyFile)
	if err != nil {
		log.Error("invalid policy", "err", err)
		os.Exit(1)
	}

	fg, info, err := forge.New(ctx, forge.Config{
		RepoURL:     repoURL,
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
		GitLabToken: os.Getenv("GITLAB_TOKEN"),
	}, log)
	if err != nil {
		log.Error("failed to build forge", "err", err)
		os.Exit(1)
	}

	trk, err := tracker.New(ctx, tracker.Config{
		Backend:      backend,
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubOwner:  envOr("TRACKER_GITHUB_OWNER", info.Owner),
		GitHubRepo:   envOr("TRACKER_GITHUB_REPO", info.Repo),
		LinearAPIKey: os.Getenv("LINEAR_API_KEY"),
		LinearTeamID: os.Getenv("LINEAR_TEAM_ID"),
	}, log)
	if err != nil {
		log.Error("failed to build tracker", "err", err)
		os.Exit(1)
	}

	notifier := notify.NewSlackNotifier(slackToken, slackChannel)
	auditor := audit.New(trk, fg, notifier, policy, info.Owner+"/"+info.Repo, log)

	if err := auditor.Run(ctx); err != nil {
		log.Error("audit failed", "err", err)
		os.Exit(1)
	}
	log.Info("audit complete")
}

func mustEnv(log *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error("missing required env var", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
