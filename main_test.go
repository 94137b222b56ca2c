package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkedin-mcp/linkedin-mcp/internal/tokens"
)

// runCLI executes the root command with isolated configuration.
func runCLI(t *testing.T, tokenFile string, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{
		"LINKEDIN_MCP_CONFIG", "LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET",
		"LINKEDIN_REDIRECT_URI", "TOKEN_FILE", "AUTH_TIMEOUT", "LOG_LEVEL", "LOG_FILE",
	} {
		t.Setenv(key, "")
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--client-id", "test-client",
		"--client-secret", "test-secret",
		"--token-file", tokenFile,
		"--log-level", "error",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus_NotAuthenticated(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "tokens.json"), "status")
	require.NoError(t, err)
	assert.Equal(t, "Not authenticated.\n", out)
}

func TestStatus_ShowsStoredIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, tokens.NewStore(path, "test-client").Save(&tokens.Credentials{
		AccessToken: "AQVsecret-access-token",
		TokenType:   "Bearer",
		Subject:     "abc123",
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	out, err := runCLI(t, path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Name         : Ada Lovelace")
	assert.Contains(t, out, "Email        : ada@example.com")
	assert.Contains(t, out, "Access Token : AQVsec...")
	assert.NotContains(t, out, "secret-access-token")
}

func TestLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := tokens.NewStore(path, "test-client")
	require.NoError(t, store.Save(&tokens.Credentials{AccessToken: "tok", Subject: "abc123"}))

	out, err := runCLI(t, path, "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out.\n", out)

	_, err = store.Load()
	assert.ErrorIs(t, err, tokens.ErrNotFound)

	// Logging out twice is fine.
	_, err = runCLI(t, path, "logout")
	require.NoError(t, err)
}

func TestPost_RequiresAuthentication(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "tokens.json"), "post", "--text", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestPost_RejectsBadVisibility(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "tokens.json"),
		"post", "--text", "hello", "--visibility", "FRIENDS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visibility must be PUBLIC or CONNECTIONS")
}

func TestRoot_InvalidConfig(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "tokens.json"),
		"--redirect-uri", "https://example.com/callback", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINKEDIN_REDIRECT_URI")
}

func TestRoot_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "login", "status", "logout", "post"})
}
