// Package tools exposes authentication and publishing as MCP tools over stdio.
package tools

import (
	"context"
	stdlog "log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"github.com/linkedin-mcp/linkedin-mcp/internal/auth"
	"github.com/linkedin-mcp/linkedin-mcp/internal/linkedin"
	"github.com/linkedin-mcp/linkedin-mcp/internal/tokens"
)

// ServerName is the MCP implementation name reported to clients.
const ServerName = "LinkedInServer"

// Authenticator is the part of auth.Coordinator the tools drive.
type Authenticator interface {
	Authenticate(ctx context.Context) (*tokens.Credentials, error)
	CompleteAuthentication(ctx context.Context) (*tokens.Credentials, error)
	Status(ctx context.Context) auth.StatusReport
	Stop() error
}

// Publisher creates posts.
type Publisher interface {
	CreatePost(ctx context.Context, accessToken, personID string, req linkedin.PostRequest) (string, error)
}

// CredentialSource loads the stored identity.
type CredentialSource interface {
	Load() (*tokens.Credentials, error)
}

// Server is the LinkedIn MCP tool surface.
type Server struct {
	auth      Authenticator
	publisher Publisher
	store     CredentialSource
	logger    *log.Entry
	mcp       *server.MCPServer
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(a Authenticator, p Publisher, store CredentialSource, version string, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "tools")
	}
	s := &Server{
		auth:      a,
		publisher: p,
		store:     store,
		logger:    logger,
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP on stdin/stdout until ctx is done or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	errWriter := s.logger.WriterLevel(log.ErrorLevel)
	defer errWriter.Close()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(stdlog.New(errWriter, "", 0))

	s.logger.Info("Serving MCP over stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("authenticate",
		mcp.WithDescription("Start LinkedIn authentication: opens the browser and waits for the sign-in "+
			"to finish. If the browser cannot be opened, the authorization URL is returned so it can be "+
			"visited manually, followed by complete_authentication."),
	), s.handleAuthenticate)

	s.mcp.AddTool(mcp.NewTool("complete_authentication",
		mcp.WithDescription("Complete a pending LinkedIn authentication using the callback the browser "+
			"already delivered."),
	), s.handleCompleteAuthentication)

	s.mcp.AddTool(mcp.NewTool("check_auth_status",
		mcp.WithDescription("Report the stored LinkedIn identity and any authentication in progress."),
	), s.handleCheckAuthStatus)

	s.mcp.AddTool(mcp.NewTool("stop_auth_server",
		mcp.WithDescription("Abandon any authentication in progress and stop the local callback server."),
	), s.handleStopAuthServer)

	s.mcp.AddTool(mcp.NewTool("create_post",
		mcp.WithDescription("Create a new post on LinkedIn, optionally with images or a video."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The content of your post"),
		),
		mcp.WithString("visibility",
			mcp.Description("Post visibility"),
			mcp.Enum(string(linkedin.VisibilityPublic), string(linkedin.VisibilityConnections)),
			mcp.DefaultString(string(linkedin.VisibilityPublic)),
		),
		mcp.WithArray("media_files",
			mcp.Description("Paths to media files to attach (images or videos, not both)"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("media_titles",
			mcp.Description("Optional titles for the media files, by position"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("media_descriptions",
			mcp.Description("Optional descriptions for the media files, by position"),
			mcp.WithStringItems(),
		),
	), s.handleCreatePost)
}
