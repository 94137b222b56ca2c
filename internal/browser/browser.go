// Package browser decides whether a browser can plausibly be opened and
// opens the provider's authorization page in it.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// Availability holds the result of checking whether a browser can be opened.
type Availability struct {
	Available bool
	Reason    string // non-empty when Available is false
}

// launchGrace is how long Open waits for the opener to fail before it
// assumes the browser took over.
const launchGrace = 300 * time.Millisecond

// System opens URLs in the user's default browser.
type System struct {
	// Disabled forces Available to report false (--no-browser).
	Disabled bool

	// launch and fallback default to open-golang and the per-OS commands.
	launch   func(url string) error
	fallback func(url string) error
}

// Available inspects the environment without launching anything:
//
//  1. --no-browser / NO_BROWSER.
//  2. SSH sessions without X11/Wayland forwarding.
//  3. Linux hosts with no display server (headless, Docker, CI).
//
// Callers that pass the check must still treat an Open failure as
// "hand the URL to the user".
func (s System) Available(_ context.Context) Availability {
	if s.Disabled {
		return Availability{false, "browser launch disabled by configuration"}
	}

	inSSH := os.Getenv("SSH_TTY") != "" ||
		os.Getenv("SSH_CLIENT") != "" ||
		os.Getenv("SSH_CONNECTION") != ""

	hasDisplay := os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""

	if inSSH && !hasDisplay {
		return Availability{false, "SSH session without display forwarding"}
	}

	if runtime.GOOS == "linux" && !hasDisplay {
		return Availability{false, "no display server (DISPLAY/WAYLAND_DISPLAY not set)"}
	}

	return Availability{Available: true}
}

// Open starts the default browser at url and returns without waiting for it.
// The opener runs to completion in the background so its process is always
// reaped; a failure within launchGrace falls back to the per-OS commands.
func (s System) Open(ctx context.Context, url string) error {
	launch, fallback := s.launch, s.fallback
	if launch == nil {
		launch = open.Run
	}
	if fallback == nil {
		fallback = openPlatformSpecific
	}

	errc := make(chan error, 1)
	go func() { errc <- launch(url) }()

	timer := time.NewTimer(launchGrace)
	defer timer.Stop()

	select {
	case err := <-errc:
		if err == nil {
			log.Debug("Opened browser using open-golang")
			return nil
		}
		log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
		return fallback(url)
	case <-timer.C:
		log.Debug("Browser opener still running; leaving it in the background")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func openPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, candidate := range []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"} {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	// Reap the child so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}
