package debug

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var opts struct {
	logger *log.Logger
}

// make sure that initialization happens before any init() functions run,
// cf https://golang.org/ref/spec#Package_initialization
var _ = initDebug()

func initDebug() bool {
	debugfile := os.Getenv("DEBUG_LOG")
	if debugfile == "" {
		return false
	}

	fmt.Fprintf(os.Stderr, "debug log file %v\n", debugfile)

	f, err := os.OpenFile(debugfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open debug log file: %v\n", err)
		os.Exit(2)
	}

	opts.logger = log.New(f, "", log.LstdFlags)
	return true
}

// Log prints the message to the debug log file, if one is configured via
// the DEBUG_LOG environment variable. Otherwise it does nothing.
func Log(f string, args ...interface{}) {
	if opts.logger == nil {
		return
	}

	fn := "unknown"
	pc, file, line, ok := runtime.Caller(1)
	if ok {
		if d := runtime.FuncForPC(pc); d != nil {
			fn = d.Name()
			if pos := strings.LastIndex(fn, "/"); pos >= 0 {
				fn = fn[pos+1:]
			}
		}
	}

	if !strings.HasSuffix(f, "\n") {
		f += "\n"
	}

	formatString := fmt.Sprintf("%s:%d\t%s\t%s", filepath.Base(file), line, fn, f)
	opts.logger.Printf(formatString, args...)
}
