package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/repository"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

var cmdRoot = &cobra.Command{
	Use:   "chunkstash",
	Short: "Deduplicating encrypted archive storage",
	Long: `
chunkstash stores byte streams as items in a deduplicating, encrypted
repository and reclaims unreferenced storage with a garbage collector.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return runDebug()
	},
}

func main() {
	crypto.Init()

	debug.Log("chunkstash %v", os.Args)

	err := cmdRoot.Execute()
	RunCleanupHandlers()
	if err == nil {
		return
	}

	switch {
	case errors.IsFatal(err):
		fmt.Fprintf(os.Stderr, "%v\n", err)
	case errors.Is(err, repository.ErrAlreadyExists),
		errors.Is(err, repository.ErrRepoDoesNotExist),
		errors.Is(err, repository.ErrNotInitializedProperly),
		errors.Is(err, repository.ErrUnsupportedSchemaVersion),
		errors.Is(err, repository.ErrExclusiveLockRequired):
		fmt.Fprintf(os.Stderr, "%v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
