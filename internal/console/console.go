// Package console implements the operator line processor, the script
// sequencer and the single-consumer queue that serializes every input
// source.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/commands"
	"github.com/swarm-console/internal/datagram"
	"github.com/swarm-console/internal/membership"
)

// State is the console lifecycle state
type State int32

const (
	Idle State = iota
	Processing
	Stopped
)

func (s State) String() string {
	switch s {
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Reserved first tokens handled before generic dispatch
const (
	directiveSleep  = "sleep"
	directiveScript = "script"
	directiveSync   = "sync_groups"
	directiveReload = "reload_groups"
	directiveGroups = "groups"
	directiveHelp   = "help"
	directiveExit   = "exit"
	directiveQuit   = "quit"

	commentMarker = "#"
)

// Dispatcher sends one record and echoes it to the operator
type Dispatcher = membership.Dispatcher

// Options tunes a Console
type Options struct {
	// StrictGroups rejects malformed group targets instead of falling
	// back to group 0
	StrictGroups bool
	QueueSize    int
	Logger       *zap.Logger
}

// Console processes operator lines one at a time
type Console struct {
	registry     *commands.CommandRegistry
	builder      *datagram.Builder
	dispatcher   Dispatcher
	groups       *membership.Store
	logger       *zap.Logger
	strictGroups bool

	state atomic.Int32
	jobs  chan job

	// script bookkeeping, only touched by the processing goroutine
	inFlight   map[string]bool
	scriptDirs []string
	nested     ScriptResult

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a console. Group lookups for individually addressed commands
// go through groups at build time, so reloads are visible immediately.
func New(registry *commands.CommandRegistry, groups *membership.Store, dispatcher Dispatcher, opts Options) *Console {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = 16
	}

	return &Console{
		registry:     registry,
		builder:      datagram.NewBuilder(groups),
		dispatcher:   dispatcher,
		groups:       groups,
		logger:       logger,
		strictGroups: opts.StrictGroups,
		jobs:         make(chan job, queueSize),
		inFlight:     make(map[string]bool),
		sleep:        sleepContext,
	}
}

// State returns the current lifecycle state
func (c *Console) State() State {
	return State(c.state.Load())
}

func (c *Console) setState(s State) {
	c.state.Store(int32(s))
}

// ProcessLine handles one operator line. Blank lines and comments are
// no-ops. Errors are returned to the caller for reporting; ErrStop signals
// exit or quit.
func (c *Console) ProcessLine(ctx context.Context, out io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, commentMarker) {
		return nil
	}

	fields := strings.Fields(line)
	rest := fields[1:]

	switch strings.ToLower(fields[0]) {
	case directiveExit, directiveQuit:
		return ErrStop
	case directiveSleep:
		return c.handleSleep(ctx, rest)
	case directiveScript:
		if len(rest) != 1 {
			return usage("script <file>")
		}
		result, err := c.RunScript(ctx, out, rest[0])
		c.nested = result
		return err
	case directiveSync:
		if len(rest) != 0 {
			return usage(directiveSync)
		}
		return c.syncGroups(ctx, out)
	case directiveReload:
		if len(rest) != 0 {
			return usage(directiveReload)
		}
		return c.reloadGroups(out)
	case directiveGroups:
		if len(rest) != 0 {
			return usage(directiveGroups)
		}
		c.printGroups(out)
		return nil
	case directiveHelp:
		if len(rest) != 0 {
			return usage(directiveHelp)
		}
		c.printHelp(out)
		return nil
	}

	return c.dispatchLine(ctx, out, fields)
}

// dispatchLine runs the generic <target> <verb> [args...] path
func (c *Console) dispatchLine(ctx context.Context, out io.Writer, fields []string) error {
	if len(fields) < 2 {
		return usage("<target> <command> [args...]: no command given for %q", fields[0])
	}

	target, err := address.Resolve(fields[0])
	if err != nil {
		if !errors.Is(err, address.ErrMalformedGroup) || c.strictGroups {
			return usage("<target> must be all, g:<group> or an id: %v", err)
		}
		fmt.Fprintf(out, "warning: %v, addressing group 0\n", err)
		c.logger.Warn("Malformed group target, using group 0", zap.String("token", fields[0]))
	}

	spec, args, err := c.registry.Parse(fields[1], fields[2:])
	if err != nil {
		return err
	}

	record := c.builder.Build(spec.Code, args, target)
	return c.dispatcher.Dispatch(ctx, out, spec.Verb, target, record)
}

func (c *Console) handleSleep(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("sleep <seconds>")
	}
	seconds, err := strconv.ParseFloat(args[0], 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return usage("sleep <seconds>: %q is not a non-negative number", args[0])
	}

	d := time.Duration(seconds * float64(time.Second))
	c.logger.Debug("Sleeping", zap.Duration("duration", d))
	return c.sleep(ctx, d)
}

func (c *Console) syncGroups(ctx context.Context, out io.Writer) error {
	result, err := c.groups.BroadcastSync(ctx, out, c.dispatcher)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "group sync: %d sent, %d failed\n", result.Sent, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("group sync: %d of %d dispatches failed", result.Failed, result.Sent+result.Failed)
	}
	return nil
}

func (c *Console) reloadGroups(out io.Writer) error {
	if err := c.groups.Reload(); err != nil {
		return fmt.Errorf("reload groups: %w", err)
	}
	fmt.Fprintf(out, "groups reloaded: %d entries\n", c.groups.Snapshot().Len())
	return nil
}

func (c *Console) printGroups(out io.Writer) {
	entries := c.groups.Entries()
	if len(entries) == 0 {
		fmt.Fprintf(out, "no group assignments (%s)\n", c.groups.Path())
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\tg:%d\n", e.Identity, e.Group)
	}
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, "syntax: <target> <command> [args...]   target: all | g:<group> | <id>")
	for _, info := range c.registry.Describe() {
		fmt.Fprintf(out, "  %-40s %s\n", info.Usage, info.Description)
	}
	fmt.Fprintln(out, "directives:")
	fmt.Fprintln(out, "  sleep <seconds>, script <file>, sync_groups, reload_groups, groups, help, exit")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
