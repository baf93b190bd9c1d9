package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/keys"
	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdList = &cobra.Command{
	Use:   "list",
	Short: "List all items in the repository",
	Long: `
The "list" command prints one line per item: the id, the root address of
the item's hash tree, and the item's tags. Tags are encrypted; they are
only printed when a key file is given and it is the key the item was
written with.
`,
	DisableAutoGenTag: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runList(globalOptions)
	},
}

func init() {
	cmdRoot.AddCommand(cmdList)
}

func runList(gopts GlobalOptions) error {
	// The key is optional here: ids and addresses are readable without
	// it, only the tags stay opaque.
	var key *keys.Key
	if gopts.KeyFile != "" {
		var err error
		key, err = keys.Load(gopts.KeyFile)
		if err != nil {
			return err
		}
	}

	repo, err := openRepository(gopts, repository.OpenShared)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	return repo.WalkAllItems(func(items []repository.Item) error {
		for _, item := range items {
			fmt.Printf("%d %v%s\n", item.ID, item.Metadata.Address, formatTags(key, &item))
		}
		return nil
	})
}

func formatTags(key *keys.Key, item *repository.Item) string {
	if key == nil {
		return ""
	}

	tags, ok, err := item.Metadata.DecryptTags(key)
	if err != nil || !ok {
		return " <undecryptable>"
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%s", name, tags[name])
	}
	return sb.String()
}
