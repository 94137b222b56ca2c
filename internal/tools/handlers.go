package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"github.com/linkedin-mcp/linkedin-mcp/internal/auth"
	"github.com/linkedin-mcp/linkedin-mcp/internal/linkedin"
	"github.com/linkedin-mcp/linkedin-mcp/internal/tokens"
)

// errNotAuthenticated is what create_post reports without usable credentials.
var errNotAuthenticated = errors.New("Not authenticated. Please authenticate first.") //nolint:staticcheck

// loggerName tags the log notifications sent to the MCP client.
const loggerName = "linkedin"

// notify forwards a message to the client that made the current request.
// Clients that did not initialize a session or that filter the level out
// simply miss it.
func (s *Server) notify(ctx context.Context, level mcp.LoggingLevel, msg string) {
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return
	}
	err := srv.SendLogMessageToClient(ctx, mcp.NewLoggingMessageNotification(level, loggerName, msg))
	if err != nil && !errors.Is(err, server.ErrNotificationNotInitialized) {
		s.logger.WithError(err).Debug("Could not forward log message to client")
	}
}

// withProgress routes the coordinator's steps to the client as info
// messages.
func (s *Server) withProgress(ctx context.Context) context.Context {
	return auth.WithProgress(ctx, func(msg string) {
		s.notify(ctx, mcp.LoggingLevelInfo, msg)
	})
}

// failure is the single exit for tool errors: log with context, tell the
// client, answer with one human-readable message.
func (s *Server) failure(ctx context.Context, tool, prefix string, err error) *mcp.CallToolResult {
	msg := err.Error()
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	s.logger.WithError(err).WithField("tool", tool).Error("Tool call failed")
	s.notify(ctx, mcp.LoggingLevelError, msg)
	return mcp.NewToolResultError(msg)
}

func (s *Server) handleAuthenticate(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("Starting LinkedIn authentication flow")

	creds, err := s.auth.Authenticate(s.withProgress(ctx))
	if err != nil {
		return s.failure(ctx, "authenticate", "Authentication failed", err), nil
	}
	return mcp.NewToolResultText(auth.Summary(creds)), nil
}

func (s *Server) handleCompleteAuthentication(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("Completing authentication with pending callback")

	creds, err := s.auth.CompleteAuthentication(s.withProgress(ctx))
	if err != nil {
		return s.failure(ctx, "complete_authentication", "Authentication completion failed", err), nil
	}
	return mcp.NewToolResultText(auth.Summary(creds)), nil
}

func (s *Server) handleCheckAuthStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.auth.Status(ctx).String()), nil
}

func (s *Server) handleStopAuthServer(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.auth.Stop(); err != nil {
		return s.failure(ctx, "stop_auth_server", "Failed to stop authentication server", err), nil
	}
	return mcp.NewToolResultText("Authentication server stopped."), nil
}

func (s *Server) handleCreatePost(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return s.failure(ctx, "create_post", "", err), nil
	}
	visibility, err := linkedin.ParseVisibility(request.GetString("visibility", string(linkedin.VisibilityPublic)))
	if err != nil {
		return s.failure(ctx, "create_post", "", err), nil
	}

	creds, err := s.store.Load()
	if err != nil && !errors.Is(err, tokens.ErrNotFound) {
		return s.failure(ctx, "create_post", "Failed to read stored credentials", err), nil
	}
	if !creds.Valid() {
		return s.failure(ctx, "create_post", "", errNotAuthenticated), nil
	}

	media := linkedin.NewMediaRequests(
		request.GetStringSlice("media_files", nil),
		request.GetStringSlice("media_titles", nil),
		request.GetStringSlice("media_descriptions", nil),
	)

	s.logger.WithFields(log.Fields{
		"visibility": visibility,
		"media":      len(media),
	}).Info("Creating LinkedIn post")

	id, err := s.publisher.CreatePost(ctx, creds.AccessToken, creds.Subject, linkedin.PostRequest{
		Text:       text,
		Visibility: visibility,
		Media:      media,
	})
	if err != nil {
		return s.failure(ctx, "create_post", "", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully created LinkedIn post with ID: %s", id)), nil
}
