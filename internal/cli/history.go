package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Source  string
	Limit   int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled definition load outcomes",
		Long: `Show the load journal written by "replacer run".

Without --source the newest entries come first. With --source every entry for
that definition file is shown oldest first.

Example:
  replacer history --limit 20
  replacer history --source ./Replacers/ModA/hands.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal database (defaults to journal_path)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only entries for this definition file")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum entries without --source (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	path := opts.Journal
	if path == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		path = cfg.JournalPath
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal configured (set journal_path or --journal)")
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var entries []journal.Entry
	if opts.Source != "" {
		entries, err = j.ForSource(cmd.Context(), filepath.Clean(opts.Source))
	} else {
		entries, err = j.Recent(cmd.Context(), opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	return formatterFor(opts.RootOptions, cmd).Render(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No journal entries.")
			return
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%6d  %-8s %s", e.Seq, e.Outcome, e.Source)
			if e.Rule != "" && e.Rule != e.Source {
				fmt.Fprintf(w, " (%s)", e.Rule)
			}
			fmt.Fprintln(w)
			if e.Reason != "" {
				fmt.Fprintf(w, "        %s\n", e.Reason)
			}
		}
	})
}
