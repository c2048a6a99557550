// Package browser opens the authorization URL in the user's default web
// browser and offers a clipboard fallback for environments where no browser
// can be launched.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// OpenURL opens the specified URL in the default web browser. It first
// attempts the platform-agnostic library and falls back to OS-specific
// commands if that fails.
func OpenURL(url string) error {
	if err := open.Run(url); err != nil {
		log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
		return openURLPlatformSpecific(url)
	}
	log.Debug("opened URL using open-golang library")
	return nil
}

// CopyURL places the authorization URL on the system clipboard so the user
// can paste it into a browser manually (the --no-browser path).
func CopyURL(url string) error {
	if err := clipboard.WriteAll(url); err != nil {
		return fmt.Errorf("failed to copy URL to clipboard: %w", err)
	}
	return nil
}

// openURLPlatformSpecific opens a URL using OS-specific commands as a
// fallback for OpenURL.
func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, candidate := range []string{"xdg-open", "x-www-browser", "www-browser"} {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser opener found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	log.Debugf("opened URL using %s", cmd.Path)
	return nil
}
