package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/archive"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdPut = &cobra.Command{
	Use:   "put [flags] [file]",
	Short: "Store a stream as a new item",
	Long: `
The "put" command reads a byte stream from the given file, or from stdin
when no file (or "-") is given, stores it in the repository and records
it as a new item. The id of the new item is printed to stdout.

Identical content is deduplicated against everything already stored
under the same key.
`,
	DisableAutoGenTag: true,
	Args:              cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPut(globalOptions, putOptions, args)
	},
}

// PutOptions collects the options for the put command.
type PutOptions struct {
	Tags []string
}

var putOptions PutOptions

func init() {
	cmdRoot.AddCommand(cmdPut)

	f := cmdPut.Flags()
	f.StringArrayVar(&putOptions.Tags, "tag", nil, "add a `key=value` tag to the item (can be specified multiple times)")
}

func parseTags(specs []string) (map[string]string, error) {
	tags := make(map[string]string, len(specs))
	for _, spec := range specs {
		k, v, ok := strings.Cut(spec, "=")
		if !ok || k == "" {
			return nil, errors.Fatalf("invalid tag %q, expected key=value", spec)
		}
		tags[k] = v
	}
	return tags, nil
}

func runPut(gopts GlobalOptions, opts PutOptions, args []string) error {
	tags, err := parseTags(opts.Tags)
	if err != nil {
		return err
	}

	key, err := loadKey(gopts)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.WithStack(err)
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	repo, err := openRepository(gopts, repository.OpenShared)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	engine, err := repo.StorageEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	root, height, err := archive.Put(engine, key, src)
	if err != nil {
		return err
	}

	md, err := repository.NewItemMetadata(key, root, height, tags)
	if err != nil {
		return err
	}

	// Put has already issued the durability barrier, so the chunks the
	// item references are on disk before the item becomes visible.
	id, err := repo.AddItem(md)
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}
