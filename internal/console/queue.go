package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/swarm-console/internal/audit"
)

// job is one unit of work for the processing goroutine
type job struct {
	ctx    context.Context
	source string
	out    io.Writer
	run    func(ctx context.Context, out io.Writer) error
	done   chan error
}

// Serve drains the job queue in FIFO order until ctx is cancelled. Only one
// job is processed at a time, whichever input source submitted it.
func (c *Console) Serve(ctx context.Context) error {
	c.logger.Debug("Console worker started")
	defer c.logger.Debug("Console worker stopped")

	for {
		select {
		case j := <-c.jobs:
			j.done <- c.execute(j)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Console) execute(j job) error {
	if c.State() == Stopped {
		return ErrStop
	}
	c.setState(Processing)
	defer func() {
		if c.State() == Processing {
			c.setState(Idle)
		}
	}()

	ctx := audit.WithSource(j.ctx, j.source)
	err := j.run(ctx, j.out)
	if err != nil && !errors.Is(err, ErrStop) {
		report(j.out, "", err)
		c.logger.Warn("Line failed", zap.String("source", j.source), zap.Error(err))
	}
	return err
}

// Exec queues line for processing and waits for its result. Failures have
// already been reported to out when Exec returns them.
func (c *Console) Exec(ctx context.Context, source, line string, out io.Writer) error {
	return c.submit(ctx, source, out, func(ctx context.Context, out io.Writer) error {
		return c.ProcessLine(ctx, out, line)
	})
}

// ExecScript queues a script run. The path is taken verbatim, so it may
// contain spaces.
func (c *Console) ExecScript(ctx context.Context, source, path string, out io.Writer) (ScriptResult, error) {
	var result ScriptResult
	err := c.submit(ctx, source, out, func(ctx context.Context, out io.Writer) error {
		var err error
		result, err = c.RunScript(ctx, out, path)
		return err
	})
	return result, err
}

func (c *Console) submit(ctx context.Context, source string, out io.Writer, run func(context.Context, io.Writer) error) error {
	j := job{
		ctx:    ctx,
		source: source,
		out:    out,
		run:    run,
		done:   make(chan error, 1),
	}

	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interactive reads operator lines from in until exit, quit or end of
// input, and moves the console to Stopped. Serve must be running.
func (c *Console) Interactive(ctx context.Context, in io.Reader, out io.Writer, prompt string) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, prompt)

		select {
		case <-ctx.Done():
			c.setState(Stopped)
			return nil

		case err := <-readErr:
			fmt.Fprintln(out)
			fmt.Fprintln(out, "exiting")
			c.setState(Stopped)
			return err

		case line := <-lines:
			err := c.Exec(ctx, "stdin", line, out)
			if errors.Is(err, ErrStop) {
				fmt.Fprintln(out, "exiting")
				c.setState(Stopped)
				return nil
			}
			if ctx.Err() != nil {
				c.setState(Stopped)
				return nil
			}
		}
	}
}
