package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdRm = &cobra.Command{
	Use:   "rm [flags] id [id...]",
	Short: "Remove items from the repository",
	Long: `
The "rm" command removes the items with the given ids. The storage they
referenced is not reclaimed immediately; run "gc" to sweep unreferenced
chunks.
`,
	DisableAutoGenTag: true,
	Args:              cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runRm(globalOptions, args)
	},
}

func init() {
	cmdRoot.AddCommand(cmdRm)
}

func runRm(gopts GlobalOptions, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return errors.Fatalf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}

	repo, err := openRepository(gopts, repository.OpenShared)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	for _, id := range ids {
		ok, err := repo.RemoveItem(id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Fatalf("no item with id %d", id)
		}
		Verbosef("removed item %d\n", id)
	}
	return nil
}
