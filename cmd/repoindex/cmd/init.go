package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/configs"
	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
)

func newInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the project configuration and ignore list",
		Long: `Write .repoindex.yaml (every setting at its default, with comments) and
.repoindex-ignore to the project root. Existing files are kept unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			cfgPath := filepath.Join(p.root, config.ProjectConfigName)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				out.Warningf("%s exists, keeping it (use --force to overwrite)", config.ProjectConfigName)
			} else {
				if err := os.WriteFile(cfgPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", cfgPath, err)
				}
				out.Successf("Wrote %s", cfgPath)
			}

			list, err := pathfilter.LoadIgnoreList(p.layout.IgnoreFile())
			if err != nil {
				return err
			}
			if force {
				list.Reset()
				if err := list.Save(); err != nil {
					return err
				}
			}
			out.Successf("Ignore list %s (%d patterns)", list.Path(), len(list.Patterns()))
			out.Status("", "Next: run 'repoindex build'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files with the defaults")
	return cmd
}
