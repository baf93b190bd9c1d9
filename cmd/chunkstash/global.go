package main

import (
	"fmt"
	"os"

	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/keys"
	"github.com/chunkstash/chunkstash/internal/repository"
)

// GlobalOptions holds the options valid for all commands.
type GlobalOptions struct {
	Repo    string
	KeyFile string
	Quiet   bool
}

var globalOptions = GlobalOptions{
	Repo:    os.Getenv("CHUNKSTASH_REPO"),
	KeyFile: os.Getenv("CHUNKSTASH_KEY"),
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.StringVarP(&globalOptions.Repo, "repo", "r", globalOptions.Repo, "repository directory (default: $CHUNKSTASH_REPO)")
	f.StringVarP(&globalOptions.KeyFile, "key", "k", globalOptions.KeyFile, "key file (default: $CHUNKSTASH_KEY)")
	f.BoolVarP(&globalOptions.Quiet, "quiet", "q", false, "do not output comprehensive progress report")
}

// Printf writes the message to the configured stdout stream unless quiet mode
// is enabled.
func Printf(format string, args ...interface{}) {
	if globalOptions.Quiet {
		return
	}
	fmt.Printf(format, args...)
}

// Verbosef calls Printf to write the message when verbose output is requested.
func Verbosef(format string, args ...interface{}) {
	Printf(format, args...)
}

// openRepository opens the repository named by --repo in the given mode.
func openRepository(gopts GlobalOptions, mode repository.OpenMode) (*repository.Repo, error) {
	if gopts.Repo == "" {
		return nil, errors.Fatal("Please specify repository location (-r or CHUNKSTASH_REPO)")
	}

	return repository.Open(gopts.Repo, mode)
}

// loadKey loads the key file named by --key.
func loadKey(gopts GlobalOptions) (*keys.Key, error) {
	if gopts.KeyFile == "" {
		return nil, errors.Fatal("Please specify key file location (-k or CHUNKSTASH_KEY)")
	}

	return keys.Load(gopts.KeyFile)
}
