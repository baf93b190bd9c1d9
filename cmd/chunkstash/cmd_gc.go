package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdGc = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim storage for unreferenced chunks",
	Long: `
The "gc" command deletes every chunk that no item references anymore. It
opens the repository exclusively and therefore waits until all other
handles are closed.
`,
	DisableAutoGenTag: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runGc(globalOptions)
	},
}

func init() {
	cmdRoot.AddCommand(cmdGc)
}

func runGc(gopts GlobalOptions) error {
	repo, err := openRepository(gopts, repository.OpenExclusive)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	stats, err := repo.GC()
	if err != nil {
		return err
	}

	Verbosef("deleted %d chunks, freed %s\n", stats.ChunksDeleted, formatBytes(stats.BytesFreed))
	Verbosef("%s remains stored\n", formatBytes(stats.BytesRemaining))
	return nil
}

func formatBytes(c uint64) string {
	b := float64(c)

	switch {
	case c >= 1<<40:
		return fmt.Sprintf("%.3f TiB", b/(1<<40))
	case c >= 1<<30:
		return fmt.Sprintf("%.3f GiB", b/(1<<30))
	case c >= 1<<20:
		return fmt.Sprintf("%.3f MiB", b/(1<<20))
	case c >= 1<<10:
		return fmt.Sprintf("%.3f KiB", b/(1<<10))
	default:
		return fmt.Sprintf("%d B", c)
	}
}
