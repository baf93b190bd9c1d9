package main

import (
	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/repository"
)

var cmdInit = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new repository",
	Long: `
The "init" command creates a new repository directory with an empty
catalog and chunk store. It refuses to touch a path that already exists.
`,
	DisableAutoGenTag: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runInit(globalOptions)
	},
}

func init() {
	cmdRoot.AddCommand(cmdInit)
}

func runInit(gopts GlobalOptions) error {
	if gopts.Repo == "" {
		return errors.Fatal("Please specify repository location (-r or CHUNKSTASH_REPO)")
	}

	if err := repository.Init(gopts.Repo, repository.LocalEngineSpec()); err != nil {
		return err
	}

	Verbosef("created chunkstash repository at %v\n", gopts.Repo)
	return nil
}
