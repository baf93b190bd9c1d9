package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/archive"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdGet = &cobra.Command{
	Use:   "get [flags] id",
	Short: "Fetch an item and write its contents to stdout",
	Long: `
The "get" command looks up the item with the given id, reassembles its
contents from the repository and writes them to stdout.
`,
	DisableAutoGenTag: true,
	Args:              cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runGet(globalOptions, args)
	},
}

func init() {
	cmdRoot.AddCommand(cmdGet)
}

func runGet(gopts GlobalOptions, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Fatalf("invalid item id %q", args[0])
	}

	key, err := loadKey(gopts)
	if err != nil {
		return err
	}

	repo, err := openRepository(gopts, repository.OpenShared)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	item, err := repo.LookupItemByID(id)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.Fatalf("no item with id %d", id)
	}

	engine, err := repo.StorageEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	return archive.Get(engine, key, item.Metadata.Address, item.Metadata.TreeHeight, os.Stdout)
}
