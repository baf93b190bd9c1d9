package main

import (
	"github.com/spf13/cobra"

	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/keys"
)

var cmdKey = &cobra.Command{
	Use:               "key",
	Short:             "Manage key files",
	DisableAutoGenTag: true,
}

var cmdKeyNew = &cobra.Command{
	Use:   "new",
	Short: "Generate a new key file",
	Long: `
The "key new" command generates a fresh key file. The key holds all
secrets needed to write to and read from a repository; without it,
stored items cannot be decrypted. Keep it safe.
`,
	DisableAutoGenTag: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runKeyNew(keyNewOptions)
	},
}

// KeyNewOptions collects the options for the key new command.
type KeyNewOptions struct {
	Output string
}

var keyNewOptions KeyNewOptions

func init() {
	cmdRoot.AddCommand(cmdKey)
	cmdKey.AddCommand(cmdKeyNew)

	f := cmdKeyNew.Flags()
	f.StringVarP(&keyNewOptions.Output, "output", "o", "", "write the key to `file` (required)")
}

func runKeyNew(opts KeyNewOptions) error {
	if opts.Output == "" {
		return errors.Fatal("Please specify an output file (-o)")
	}

	k, err := keys.New()
	if err != nil {
		return err
	}

	if err := k.Save(opts.Output); err != nil {
		return err
	}

	Verbosef("wrote key %v to %v\n", k.ID, opts.Output)
	return nil
}
