package console

import (
	"errors"
	"fmt"
	"io"

	"github.com/swarm-console/internal/commands"
)

var (
	// ErrStop is returned for exit and quit
	ErrStop = errors.New("stop requested")
	// ErrResourceMissing reports a script file that does not exist
	ErrResourceMissing = errors.New("resource missing")
	// ErrScriptCycle reports a script that includes itself, directly or not
	ErrScriptCycle = errors.New("script cycle")
)

func usage(format string, args ...any) error {
	return &commands.CommandError{
		Code:    commands.ErrUsage,
		Message: "usage: " + fmt.Sprintf(format, args...),
	}
}

// report writes err to the operator
func report(out io.Writer, prefix string, err error) {
	if prefix != "" {
		fmt.Fprintf(out, "%s: error: %v\n", prefix, err)
		return
	}
	fmt.Fprintf(out, "error: %v\n", err)
}
