package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/sipeed/wabridge/pkg/logger"
)

// LockCleaner releases whatever holds the session lock on the local machine.
type LockCleaner interface {
	Clean(ctx context.Context)
}

// ProcessCleaner kills lingering client processes by command-line pattern and removes
// the session lock file. Both steps are best-effort.
type ProcessCleaner struct {
	patterns []string
	lockFile string

	kill   func(ctx context.Context, pattern string) error
	remove func(path string) error
}

func NewProcessCleaner(patterns []string, lockFile string) *ProcessCleaner {
	return &ProcessCleaner{
		patterns: patterns,
		lockFile: lockFile,
		kill:     pkill,
		remove:   os.Remove,
	}
}

func (c *ProcessCleaner) Clean(ctx context.Context) {
	c.KillProcesses(ctx)

	if c.lockFile == "" {
		return
	}
	if err := c.remove(c.lockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.ErrorCF("recovery", "Failed to remove session lock file", map[string]interface{}{
			"path":  c.lockFile,
			"error": err.Error(),
		})
		return
	}
	logger.InfoCF("recovery", "Session lock file cleared", map[string]interface{}{
		"path": c.lockFile,
	})
}

// KillProcesses is also used on shutdown, where the lock file is left alone.
func (c *ProcessCleaner) KillProcesses(ctx context.Context) {
	for _, pattern := range c.patterns {
		if err := c.kill(ctx, pattern); err != nil {
			logger.WarnCF("recovery", "Failed to kill lingering processes", map[string]interface{}{
				"pattern": pattern,
				"error":   err.Error(),
			})
		}
	}
}

func pkill(ctx context.Context, pattern string) error {
	out, err := exec.CommandContext(ctx, "pkill", "-f", pattern).CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	// pkill exits 1 when nothing matched.
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return fmt.Errorf("pkill -f %s: %w: %s", pattern, err, out)
}
