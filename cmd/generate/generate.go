package generate

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schacon/git-glance/cmd/bootstrap"
	"github.com/schacon/git-glance/config"
	"github.com/schacon/git-glance/git"
	"github.com/schacon/git-glance/model"
	"github.com/schacon/git-glance/pipeline"
	"github.com/schacon/git-glance/render"
)

var (
	from string
	to   string

	GenerateCmd = &cobra.Command{
		Use:   "generate [range]",
		Short: "Generate a changelog for a commit range (default: latest tag..HEAD)",
		Example: `  git-glance generate
  git-glance generate v1.2.0..v1.3.0
  git-glance generate -l v1.2.0 -o CHANGELOG.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}
)

func init() {
	GenerateCmd.Flags().StringVarP(&from, "from", "l", "", "Lower bound of the range (default: latest tag)")
	GenerateCmd.Flags().StringVarP(&to, "to", "r", "", "Upper bound of the range (default: HEAD)")
	GenerateCmd.Flags().StringP("output", "o", "", "Write the changelog to this file instead of stdout")
	GenerateCmd.Flags().String("format", config.FormatMarkdown, "Output format: md or html")
	GenerateCmd.Flags().String("title", "", "Document title (default: the release tag, or Changelog)")
	GenerateCmd.Flags().Bool("debug", false, "List the commits and provider behind each entry")

	_ = viper.BindPFlag("output.path", GenerateCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("output.format", GenerateCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("output.title", GenerateCmd.Flags().Lookup("title"))
	_ = viper.BindPFlag("output.debug", GenerateCmd.Flags().Lookup("debug"))
}

// rangeFromArgs combines the positional range with --from and --to; the flags win.
func rangeFromArgs(args []string, from, to string) (git.RangeExpr, error) {
	var expr git.RangeExpr
	if len(args) == 1 {
		parsed, err := git.ParseRange(args[0])
		if err != nil {
			return expr, err
		}
		expr = parsed
	}
	if from != "" {
		expr.From = from
	}
	if to != "" {
		expr.To = to
	}
	return expr, nil
}

func run(cmd *cobra.Command, args []string) error {
	expr, err := rangeFromArgs(args, from, to)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := bootstrap.New(ctx)
	if err != nil {
		return err
	}
	log := env.Log
	defer func() { _ = log.Sync() }()

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Checking git, pull requests and AI providers..."
	s.Start()
	snap := env.Snapshot(ctx)

	if !snap.Available(env.Repo.Name()) {
		s.Stop()
		return fmt.Errorf("%w: %v", model.ErrCommitSourceUnavailable, snap.Err(env.Repo.Name()))
	}
	deps := pipeline.Deps{
		Commits:  env.Repo,
		Backends: pipeline.Available(snap, env.Backends),
	}
	if snap.Available(env.PRs.Name()) {
		deps.PRs = env.PRs
	} else {
		log.Warnw("pull request source unavailable, commits will be listed on their own", "source", env.PRs.Name(), "error", snap.Err(env.PRs.Name()))
	}
	if len(deps.Backends) == 0 {
		log.Warnw("no ai provider available, entries will use commit and pull request text")
	}

	p, err := pipeline.New(log, env.Config, deps)
	if err != nil {
		s.Stop()
		return err
	}
	p.OnStage = func(st pipeline.Stage) {
		s.Lock()
		s.Suffix = " " + string(st) + "..."
		s.Unlock()
	}

	out := env.Config.Output
	res, err := p.Run(ctx, expr, render.Options{
		Title:   out.Title,
		RepoURL: env.RepoURL,
		Debug:   out.Debug,
	})
	s.Stop()
	if err != nil {
		if errors.Is(err, model.ErrRange) {
			return fmt.Errorf("❌ %w", err)
		}
		return err
	}

	doc := res.Markdown
	if out.Format == config.FormatHTML {
		doc = render.HTML(doc)
	}

	if out.Path == "" {
		if _, err := fmt.Fprint(cmd.OutOrStdout(), doc); err != nil {
			return err
		}
	} else {
		if err := os.WriteFile(out.Path, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out.Path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✅ Wrote %d entries to %s\n", len(res.Units), out.Path)
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ Finished with %d warning(s), see the log above.\n", len(res.Warnings))
	}
	return nil
}
