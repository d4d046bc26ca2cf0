package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/swarm-console/internal/audit"
)

// ScriptResult summarizes one script run
type ScriptResult struct {
	// Lines counts command lines executed, excluding blanks and comments.
	// Both counts include the lines of nested scripts.
	Lines  int
	Failed int
}

// RunScript replays a script file through ProcessLine. Failing lines are
// reported and skipped. Relative paths of nested scripts resolve against
// the including script's directory.
func (c *Console) RunScript(ctx context.Context, out io.Writer, path string) (ScriptResult, error) {
	var result ScriptResult

	resolved, err := c.resolveScript(path)
	if err != nil {
		return result, err
	}
	if c.inFlight[resolved] {
		return result, fmt.Errorf("%w: %s is already running", ErrScriptCycle, path)
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("%w: script %s", ErrResourceMissing, path)
		}
		return result, fmt.Errorf("open script %s: %w", path, err)
	}
	defer file.Close()

	c.inFlight[resolved] = true
	c.scriptDirs = append(c.scriptDirs, filepath.Dir(resolved))
	defer func() {
		delete(c.inFlight, resolved)
		c.scriptDirs = c.scriptDirs[:len(c.scriptDirs)-1]
	}()

	c.logger.Info("Running script", zap.String("path", resolved))
	ctx = audit.WithSource(ctx, "script:"+path)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}

		fmt.Fprintf(out, "> %s\n", line)
		result.Lines++

		c.nested = ScriptResult{}
		err := c.ProcessLine(ctx, out, line)
		result.Lines += c.nested.Lines
		result.Failed += c.nested.Failed
		c.nested = ScriptResult{}
		if errors.Is(err, ErrStop) {
			fmt.Fprintf(out, "%s:%d: script stopped\n", path, lineNo)
			break
		}
		if err != nil {
			result.Failed++
			report(out, fmt.Sprintf("%s:%d", path, lineNo), err)
			c.logger.Warn("Script line failed",
				zap.String("script", path),
				zap.Int("line", lineNo),
				zap.Error(err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read script %s: %w", path, err)
	}

	c.logger.Info("Script finished",
		zap.String("path", resolved),
		zap.Int("lines", result.Lines),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (c *Console) resolveScript(path string) (string, error) {
	if !filepath.IsAbs(path) && len(c.scriptDirs) > 0 {
		path = filepath.Join(c.scriptDirs[len(c.scriptDirs)-1], path)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve script %s: %w", path, err)
	}
	return resolved, nil
}
