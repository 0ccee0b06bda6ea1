package messaging

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop delivers push notifications to the local desktop through
// notify-send or osascript. The device token is ignored.
type Desktop struct {
	run func(ctx context.Context, name string, args ...string) error
}

func NewDesktop() *Desktop {
	return &Desktop{run: func(ctx context.Context, name string, args ...string) error {
		return exec.CommandContext(ctx, name, args...).Run()
	}}
}

func (d *Desktop) SendPush(ctx context.Context, _, title, body string, _ map[string]string) error {
	name, args, ok := desktopCommand(runtime.GOOS, title, body)
	if !ok {
		return fmt.Errorf("%w: desktop notifications on %s", ErrNotConfigured, runtime.GOOS)
	}
	if err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("messaging: desktop notify: %w", err)
	}
	return nil
}

func desktopCommand(goos, title, body string) (string, []string, bool) {
	switch goos {
	case "linux":
		return "notify-send", []string{title, body}, true
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(title))
		return "osascript", []string{"-e", script}, true
	default:
		return "", nil, false
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
