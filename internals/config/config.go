// Package config loads the per-repository review policy. The policy file is
// owned by the repository's humans; the actors consume it as an immutable
// value, loaded once per run and threaded explicitly into the decision engine
// and executor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
)

type RepoPolicy struct {
	// DoNotTouch lists path globs a proposal may never modify.
	DoNotTouch []string `json:"do_not_touch"`
	// AutoMerge controls whether a merge decision is executed as an actual
	// merge or downgraded to an approval review awaiting a human.
	AutoMerge bool `json:"auto_merge"`
	// MinLinesForTests is the diff size above which a proposal without test
	// changes is rejected.
	MinLinesForTests int `json:"min_lines_for_tests"`
	// MaxFilesPerPR caps proposal scope.
	MaxFilesPerPR int `json:"max_files_per_pr"`
	// StaleDays is the inactivity window after which a proposal is closed.
	StaleDays int `json:"stale_days"`
}

// Default is the policy applied when the repository carries no policy file.
func Default() RepoPolicy {
	return RepoPolicy{
		AutoMerge:        false,
		MinLinesForTests: 50,
		MaxFilesPerPR:    15,
		StaleDays:        14,
	}
}

// Load reads a policy file. A missing file yields the defaults; a present but
// invalid file is a run-level failure.
func Load(filePath string) (RepoPolicy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return RepoPolicy{}, fmt.Errorf("read policy %s: %w", filePath, err)
	}

	p := Default()
	if err := json.Unmarshal(data, &p); err != nil {
		return RepoPolicy{}, fmt.Errorf("parse policy %s: %w", filePath, err)
	}
	if err := p.Validate(); err != nil {
		return RepoPolicy{}, fmt.Errorf("invalid policy %s: %w", filePath, err)
	}
	return p, nil
}

func (p RepoPolicy) Validate() error {
	if p.MinLinesForTests < 0 {
		return fmt.Errorf("min_lines_for_tests must not be negative")
	}
	if p.MaxFilesPerPR <= 0 {
		return fmt.Errorf("max_files_per_pr must be positive")
	}
	if p.StaleDays <= 0 {
		return fmt.Errorf("stale_days must be positive")
	}
	for _, g := range p.DoNotTouch {
		if _, err := path.Match(trimRecursive(g), "probe"); err != nil {
			return fmt.Errorf("do_not_touch glob %q: %w", g, err)
		}
	}
	return nil
}

// MatchesProtected reports whether a changed path falls under a do_not_touch
// glob. A trailing "/**" matches the whole subtree.
func (p RepoPolicy) MatchesProtected(changedPath string) (string, bool) {
	for _, g := range p.DoNotTouch {
		if base, recursive := splitRecursive(g); recursive {
			if changedPath == base || len(changedPath) > len(base) && changedPath[:len(base)+1] == base+"/" {
				return g, true
			}
			continue
		}
		if ok, _ := path.Match(g, changedPath); ok {
			return g, true
		}
	}
	return "", false
}

func splitRecursive(glob string) (base string, recursive bool) {
	const suffix = "/**"
	if len(glob) > len(suffix) && glob[len(glob)-len(suffix):] == suffix {
		return glob[:len(glob)-len(suffix)], true
	}
	return glob, false
}

func trimRecursive(glob string) string {
	base, _ := splitRecursive(glob)
	return base
}
