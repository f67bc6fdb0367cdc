package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
)

type ignoreOptions struct {
	list   bool
	add    []string
	remove []string
	reset  bool
}

func newIgnoreCmd(g *globalOptions) *cobra.Command {
	var opts ignoreOptions

	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Show or edit the ignore list",
		Long: `Show or edit .repoindex-ignore, the project's list of glob patterns excluded
from the index in addition to .gitignore. Patterns match the full path, each
parent directory and the file name.

Examples:
  repoindex ignore --list
  repoindex ignore --add '*.pb.go' --add testdata
  repoindex ignore --remove vendor
  repoindex ignore --reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			list, err := pathfilter.LoadIgnoreList(p.layout.IgnoreFile())
			if err != nil {
				return err
			}

			changed := false
			if opts.reset {
				list.Reset()
				out.Success("Ignore list reset to defaults")
				changed = true
			}
			if len(opts.remove) > 0 {
				n := list.Remove(opts.remove...)
				out.Successf("Removed %d pattern(s)", n)
				changed = changed || n > 0
			}
			if len(opts.add) > 0 {
				n := list.Add(opts.add...)
				out.Successf("Added %d pattern(s)", n)
				changed = changed || n > 0
			}
			if changed {
				if err := list.Save(); err != nil {
					return err
				}
			}

			if opts.list || !changed {
				out.Status("", list.Path()+":")
				out.List(list.Patterns())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.list, "list", false, "Print the patterns")
	cmd.Flags().StringArrayVar(&opts.add, "add", nil, "Add a pattern (repeatable)")
	cmd.Flags().StringArrayVar(&opts.remove, "remove", nil, "Remove a pattern (repeatable)")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Restore the default patterns")

	return cmd
}
