package viewer

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// OpenBrowser opens url in the desktop browser after delay. Failures are logged.
func OpenBrowser(ctx context.Context, url string, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Could not open browser")
		return
	}
	go func() { _ = cmd.Wait() }()
}
