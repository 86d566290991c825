package platform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandNavigator navigates by running a shell command, for example one
// that asks the device to show its launcher.
type CommandNavigator struct {
	Command string
}

func (n CommandNavigator) NavigateToSafeContext(ctx context.Context) error {
	if strings.TrimSpace(n.Command) == "" {
		return fmt.Errorf("no safe-context command configured")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", n.Command)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %q: %w: %s", n.Command, err, msg)
		}
		return fmt.Errorf("run %q: %w", n.Command, err)
	}
	return nil
}
