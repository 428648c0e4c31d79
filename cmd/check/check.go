package check

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schacon/git-glance/cmd/bootstrap"
	"github.com/schacon/git-glance/model"
	"github.com/schacon/git-glance/probe"
)

var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that git, the pull request source and the AI providers are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := bootstrap.New(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = env.Log.Sync() }()

		snap := env.Snapshot(ctx)
		names := make([]string, 0, len(env.Backends)+2)
		for _, c := range env.Checkers() {
			names = append(names, c.Name())
		}
		report(cmd.OutOrStdout(), snap, names)

		fmt.Fprintf(cmd.OutOrStdout(), "\nProvider order: %s\n", strings.Join(env.Config.AI.Providers, " > "))
		if env.RepoURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Repository: %s\n", env.RepoURL)
		}

		if !snap.Available(env.Repo.Name()) {
			return model.ErrCommitSourceUnavailable
		}
		return nil
	},
}

func report(w io.Writer, snap probe.Snapshot, names []string) {
	for _, name := range names {
		if snap.Available(name) {
			fmt.Fprintf(w, "✅ %s\n", name)
			continue
		}
		fmt.Fprintf(w, "❌ %s: %v\n", name, snap.Err(name))
	}
}
