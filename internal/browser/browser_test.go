package browser

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable_Disabled(t *testing.T) {
	t.Setenv("DISPLAY", ":0")

	avail := System{Disabled: true}.Available(context.Background())

	assert.False(t, avail.Available)
	assert.NotEmpty(t, avail.Reason)
}

func TestAvailable_SSH_NoDisplay(t *testing.T) {
	t.Setenv("SSH_TTY", "/dev/pts/0")
	t.Setenv("SSH_CLIENT", "")
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")

	avail := System{}.Available(context.Background())

	assert.False(t, avail.Available, "expected browser unavailable in SSH session without display")
	assert.NotEmpty(t, avail.Reason)
}

func TestAvailable_SSHClient_NoDisplay(t *testing.T) {
	t.Setenv("SSH_TTY", "")
	t.Setenv("SSH_CLIENT", "192.168.1.1 12345 22")
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")

	assert.False(t, System{}.Available(context.Background()).Available)
}

func TestAvailable_SSHConnection_NoDisplay(t *testing.T) {
	t.Setenv("SSH_TTY", "")
	t.Setenv("SSH_CLIENT", "")
	t.Setenv("SSH_CONNECTION", "192.168.1.1 12345 192.168.1.2 22")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")

	assert.False(t, System{}.Available(context.Background()).Available)
}

func TestAvailable_SSH_WithX11(t *testing.T) {
	t.Setenv("SSH_TTY", "/dev/pts/0")
	t.Setenv("DISPLAY", ":10.0")
	t.Setenv("WAYLAND_DISPLAY", "")

	avail := System{}.Available(context.Background())

	assert.True(t, avail.Available, "X11 forwarding should allow the browser: %s", avail.Reason)
}

func TestAvailable_LinuxNoDisplay(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("Linux-only check")
	}
	t.Setenv("SSH_TTY", "")
	t.Setenv("SSH_CLIENT", "")
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")

	avail := System{}.Available(context.Background())

	assert.False(t, avail.Available)
	assert.Contains(t, avail.Reason, "no display server")
}

func TestAvailable_Wayland(t *testing.T) {
	t.Setenv("SSH_TTY", "")
	t.Setenv("SSH_CLIENT", "")
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")

	assert.True(t, System{}.Available(context.Background()).Available)
}

func TestOpen_Succeeds(t *testing.T) {
	var fellBack bool
	s := System{
		launch:   func(string) error { return nil },
		fallback: func(string) error { fellBack = true; return nil },
	}
	require.NoError(t, s.Open(context.Background(), "https://example.com"))
	assert.False(t, fellBack)
}

func TestOpen_FallsBackOnQuickFailure(t *testing.T) {
	var got string
	s := System{
		launch:   func(string) error { return errors.New("exit status 3") },
		fallback: func(url string) error { got = url; return errors.New("no suitable browser found") },
	}
	err := s.Open(context.Background(), "https://example.com/auth")
	require.EqualError(t, err, "no suitable browser found")
	assert.Equal(t, "https://example.com/auth", got)
}

func TestOpen_LeavesSlowOpenerRunningUntilItExits(t *testing.T) {
	release := make(chan struct{})
	exited := make(chan struct{})
	s := System{
		launch: func(string) error {
			<-release
			close(exited)
			return nil
		},
		fallback: func(string) error {
			t.Error("fallback must not run while the opener is alive")
			return nil
		},
	}

	start := time.Now()
	require.NoError(t, s.Open(context.Background(), "https://example.com"))
	assert.GreaterOrEqual(t, time.Since(start), launchGrace)

	// The opener is still waited on after Open returns.
	close(release)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("background opener never finished")
	}
}

func TestOpen_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := System{launch: func(string) error { <-release; return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Open(ctx, "https://example.com")
	assert.ErrorIs(t, err, context.Canceled)
}
