package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

type Host int

const (
	HostGitHub Host = iota
	HostGitLab
)

func (h Host) String() string {
	switch h {
	case HostGitHub:
		return "github"
	case HostGitLab:
		return "gitlab"
	default:
		return "unknown"
	}
}

type RepoInfo struct {
	Host   Host
	Domain string // e.g. "github.com" or "gitlab.mycompany.com"
	Owner  string
	Repo   string
	RawURL string
}

// ParseRepoURL resolves a repository URL (https or scp-style ssh) into the
// hosting platform and owner/repo pair.
func ParseRepoURL(rawURL string) (RepoInfo, error) {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "git@") {
		rawURL = normaliseSSH(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return RepoInfo{}, fmt.Errorf("invalid repo URL %q: %w", rawURL, err)
	}

	domain := strings.ToLower(u.Hostname())
	host, err := detectHost(domain)
	if err != nil {
		return RepoInfo{}, err
	}

	path := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[len(parts)-1] == "" {
		return RepoInfo{}, fmt.Errorf("repo URL must have owner and repo: %q", rawURL)
	}

	// GitLab allows nested namespaces; everything before the final segment
	// is the owner path.
	return RepoInfo{
		Host:   host,
		Domain: domain,
		Owner:  strings.Join(parts[:len(parts)-1], "/"),
		Repo:   parts[len(parts)-1],
		RawURL: rawURL,
	}, nil
}

func detectHost(domain string) (Host, error) {
	switch {
	case domain == "github.com" || strings.HasSuffix(domain, ".github.com"):
		return HostGitHub, nil
	case domain == "gitlab.com" || strings.Contains(domain, "gitlab"):
		return HostGitLab, nil
	default:
		return 0, fmt.Errorf("cannot determine platform from host %q — expected a github.com or gitlab domain", domain)
	}
}

func normaliseSSH(s string) string {
	s = strings.TrimPrefix(s, "git@")
	s = strings.Replace(s, ":", "/", 1)
	return "https://" + s
}

// Config parameterises forge construction.
type Config struct {
	RepoURL     string
	GitHubToken string
	GitLabToken string
}

// New resolves the repository URL and builds the matching forge adapter.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Forge, RepoInfo, error) {
	info, err := ParseRepoURL(cfg.RepoURL)
	if err != nil {
		return nil, RepoInfo{}, err
	}

	switch info.Host {
	case HostGitHub:
		if cfg.GitHubToken == "" {
			return nil, info, fmt.Errorf("no GitHub token configured")
		}
		return NewGitHub(ctx, cfg.GitHubToken, info, log), info, nil

	case HostGitLab:
		if cfg.GitLabToken == "" {
			return nil, info, fmt.Errorf("no GitLab token configured")
		}
		baseURL := "https://gitlab.com"
		if info.Domain != "gitlab.com" {
			parsed, _ := url.Parse(info.RawURL)
			baseURL = parsed.Scheme + "://" + parsed.Host
		}
		f, err := NewGitLab(cfg.GitLabToken, baseURL, info, log)
		return f, info, err
	}

	return nil, info, fmt.Errorf("unsupported platform: %s", info.Host)
}
