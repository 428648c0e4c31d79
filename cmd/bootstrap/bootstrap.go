// Package bootstrap builds the configuration, logger and collaborators shared by the commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/schacon/git-glance/ai"
	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/git"
	"github.com/schacon/git-glance/github"
	"github.com/schacon/git-glance/logger"
	"github.com/schacon/git-glance/probe"
)

// prSource is a pull request source that can also report its availability.
type prSource interface {
	github.Source
	probe.Checker
}

// Env holds everything a command needs before the availability snapshot is taken.
type Env struct {
	Config   *config.Config
	Log      *zap.SugaredLogger
	Repo     git.Repo
	PRs      prSource
	Backends []ai.Backend
	// RepoURL is the web URL of the GitHub repository, when known.
	RepoURL string
}

// Load reads configuration through the global viper instance, which the root
// command has already pointed at a config file and bound to flags.
func Load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(viper.GetViper(), viper.GetString("env_file"))
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func New(ctx context.Context) (*Env, error) {
	cfg, log, err := Load()
	if err != nil {
		return nil, err
	}

	env := &Env{Config: cfg, Log: log, Repo: git.Repo{Path: cfg.Repo.Path}}

	owner, name := cfg.GitHub.Owner, cfg.GitHub.Repo
	if owner == "" || name == "" {
		if url, err := env.Repo.RemoteURL(ctx, "origin"); err == nil {
			if o, r, err := github.ParseRemote(url); err == nil {
				owner, name = o, r
			} else {
				log.Debugw("origin is not a github remote", "url", url)
			}
		}
	}
	if owner != "" && name != "" {
		env.RepoURL = fmt.Sprintf("https://github.com/%s/%s", owner, name)
	}

	switch cfg.GitHub.Source {
	case config.SourceGH:
		env.PRs = github.CLI{RepoPath: cfg.Repo.Path}
	default:
		env.PRs = github.NewClient(github.Options{
			Token:   cfg.GitHub.Token,
			Owner:   owner,
			Repo:    name,
			BaseURL: cfg.GitHub.BaseURL,
			Timeout: cfg.GitHub.Timeout,
		})
	}

	env.Backends, err = ai.FromConfig(cfg.AI)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Checkers lists every collaborator in the order the check command prints them.
func (e *Env) Checkers() []probe.Checker {
	checkers := []probe.Checker{e.Repo, e.PRs}
	for _, b := range e.Backends {
		checkers = append(checkers, b)
	}
	return checkers
}

// Snapshot checks every collaborator once.
func (e *Env) Snapshot(ctx context.Context) probe.Snapshot {
	return probe.Take(ctx, e.Log, e.Config.Probe.Timeout, e.Checkers()...)
}
