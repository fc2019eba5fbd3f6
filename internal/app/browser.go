package app

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openInBrowser hands a URL to the platform's default opener. Used for
// previews that are video pages rather than playable audio.
var openInBrowser = func(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	// Detach; the opener's exit status is not interesting.
	go func() { _ = cmd.Wait() }()
	return nil
}
