package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/llm"
	"github.com/stewardhq/steward/internals/notify"
	"github.com/stewardhq/steward/internals/review"
	"github.com/stewardhq/steward/internals/tracker"
)

// The tech lead actor: one batch pass over the repository's open proposals,
// then exit. The external scheduler re-invokes it; nothing is persisted
// between runs except what lands on the forge and tracker themselves.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	repoURL := mustEnv(log, "REPO_URL")
	selfLogin := mustEnv(log, "STEWARD_LOGIN")
	anthropicKey := mustEnv(log, "ANTHROPIC_API_KEY")
	githubToken := os.Getenv("GITHUB_TOKEN")
	gitlabToken := os.Getenv("GITLAB_TOKEN")
	policyFile := envOr("POLICY_FILE", "steward.json")
	slackToken := os.Getenv("SLACK_BOT_TOKEN")
	slackChannel := os.Getenv("SLACK_NOTIFY_CHANNEL")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := config.Load(policyFile)
	if err != nil {
		log.Error("invalid policy, aborting before any side effects", "err", err)
		os.Exit(1)
	}

	fg, info, err := forge.New(ctx, forge.Config{
		RepoURL:     repoURL,
		GitHubToken: githubToken,
		GitLabToken: gitlabToken,
	}, log)
	if err != nil {
		log.Error("failed to build forge", "err", err)
		os.Exit(1)
	}

	trk, err := buildTracker(ctx, info, log)
	if err != nil {
		log.Error("failed to build tracker", "err", err)
		os.Exit(1)
	}

	var notifier *notify.SlackNotifier
	if slackToken != "" && slackChannel != "" {
		notifier = notify.NewSlackNotifier(slackToken, slackChannel)
	}

	llmClient := llm.NewClient(anthropicKey, llm.WithMaxTokens(16000))
	scorer := review.NewLLMScorer(llmClient, log)
	engine := review.NewEngine(policy, scorer, selfLogin)
	executor := review.NewExecutor(fg, trk, policy, log)

	var workerNotifier review.Notifier
	if notifier != nil {
		workerNotifier = notifier
	}
	worker := review.NewWorker(engine, executor, fg, workerNotifier, log)

	summary, err := worker.Run(ctx)
	if err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}

	log.Info("run complete", "decisions", len(summary.Decisions), "errors", len(summary.Errors))
	if notifier != nil {
		if err := notifier.NotifyRunSummary(ctx, info.Owner+"/"+info.Repo, summary); err != nil {
			log.Warn("failed to send run summary", "err", err)
		}
	}
}

// buildTracker wires the configured issue tracker backend, or none: the tech
// lead can review proposals without one, it just cannot transition linked
// issues.
func buildTracker(ctx context.Context, info forge.RepoInfo, log *slog.Logger) (tracker.Tracker, error) {
	backend := os.Getenv("TRACKER_BACKEND")
	if backend == "" {
		return nil, nil
	}
	return tracker.New(ctx, tracker.Config{
		Backend:      backend,
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubOwner:  envOr("TRACKER_GITHUB_OWNER", info.Owner),
		GitHubRepo:   envOr("TRACKER_GITHUB_REPO", info.Repo),
		LinearAPIKey: os.Getenv("LINEAR_API_KEY"),
		LinearTeamID: os.Getenv("LINEAR_TEAM_ID"),
	}, log)
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
