package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/output"
)

func newCleanCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the index",
		Long: `Remove the .repoindex directory, including analytics. The ignore list and
configuration are kept. Fails while a build holds the index lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			if _, err := os.Stat(p.layout.Dir); os.IsNotExist(err) {
				out.Status("", "No index to remove")
				return nil
			}

			lock := index.NewBuildLock(p.layout.Lock())
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			if err := p.layout.Clean(); err != nil {
				return err
			}
			out.Successf("Removed %s", p.layout.Dir)
			return nil
		},
	}
}
