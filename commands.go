package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/linkedin-mcp/linkedin-mcp/internal/auth"
	"github.com/linkedin-mcp/linkedin-mcp/internal/browser"
	"github.com/linkedin-mcp/linkedin-mcp/internal/config"
	"github.com/linkedin-mcp/linkedin-mcp/internal/linkedin"
	"github.com/linkedin-mcp/linkedin-mcp/internal/logging"
	"github.com/linkedin-mcp/linkedin-mcp/internal/tokens"
	"github.com/linkedin-mcp/linkedin-mcp/internal/tools"
)

// app is what every subcommand shares once configuration is resolved.
type app struct {
	flags config.Flags

	cfg    *config.Config
	client *linkedin.Client
	store  *tokens.Store
	coord  *auth.Coordinator
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "linkedin-mcp",
		Short: "MCP server for signing in with LinkedIn and publishing posts",
		Long: `linkedin-mcp serves LinkedIn authentication and posting as MCP tools over stdio.

Without a subcommand it runs the MCP server. The login, status, logout and post
subcommands do the same things from a terminal.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		RunE: a.runServe,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigFile, "config", "", "YAML config file (env: LINKEDIN_MCP_CONFIG)")
	pf.StringVar(&a.flags.ClientID, "client-id", "", "LinkedIn app client ID (env: LINKEDIN_CLIENT_ID)")
	pf.StringVar(&a.flags.ClientSecret, "client-secret", "", "LinkedIn app client secret (env: LINKEDIN_CLIENT_SECRET)")
	pf.StringVar(&a.flags.RedirectURI, "redirect-uri", "",
		"OAuth redirect URI served locally (env: LINKEDIN_REDIRECT_URI, default: "+config.DefaultRedirectURI+")")
	pf.StringVar(&a.flags.Scope, "scope", "", "space-separated OAuth scopes (env: LINKEDIN_SCOPES)")
	pf.StringVar(&a.flags.TokenFile, "token-file", "", "credentials file (env: TOKEN_FILE)")
	pf.StringVar(&a.flags.AuthTimeout, "auth-timeout", "",
		"how long authenticate waits for the browser (env: AUTH_TIMEOUT, default: 2m0s)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level (env: LOG_LEVEL, default: info)")
	pf.StringVar(&a.flags.LogFile, "log-file", "", "also write logs to this rotating file (env: LOG_FILE)")
	pf.BoolVar(&a.flags.NoBrowser, "no-browser", false, "never open a browser; print the authorization URL instead")

	root.AddCommand(
		a.serveCmd(),
		a.loginCmd(),
		a.statusCmd(),
		a.logoutCmd(),
		a.postCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.flags)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}

	client, err := linkedin.NewClient(linkedin.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.client = client
	a.store = tokens.NewStore(cfg.TokenFile, cfg.ClientID)
	a.coord = auth.New(client, a.store,
		auth.WithListenAddr(cfg.CallbackAddr()),
		auth.WithCallbackPath(cfg.CallbackPath()),
		auth.WithTimeout(cfg.AuthTimeout),
		auth.WithBrowser(browser.System{Disabled: cfg.NoBrowser}),
	)

	log.WithFields(log.Fields{
		"client_id":  logging.Redact(cfg.ClientID),
		"redirect":   cfg.RedirectURI,
		"token_file": cfg.TokenFile,
	}).Debug("Configuration loaded")
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio (default)",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	defer func() {
		if err := a.coord.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop callback listener")
		}
	}()

	srv := tools.NewServer(a.coord, a.client, a.store, version, log.WithField("component", "tools"))
	if err := srv.Serve(cmd.Context()); err != nil && !errors.Is(err, cmd.Context().Err()) {
		return err
	}
	return nil
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with LinkedIn from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			creds, err := a.coord.Authenticate(ctx)
			var manual *auth.ManualAuthorizationError
			if errors.As(err, &manual) {
				fmt.Fprintf(out, "Could not open a browser (%s).\n", manual.Reason)
				fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\n", manual.URL)
				fmt.Fprintf(out, "Waiting up to %s for the redirect to %s ...\n", a.cfg.AuthTimeout, a.cfg.RedirectURI)
				creds, err = a.coord.Await(ctx)
			}
			if err != nil {
				if stopErr := a.coord.Stop(); stopErr != nil {
					log.WithError(stopErr).Warn("Failed to stop callback listener")
				}
				return err
			}

			fmt.Fprintln(out, auth.Summary(creds))
			printCredentials(out, creds, a.store.Path())
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored LinkedIn identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			creds, err := a.store.Load()
			if errors.Is(err, tokens.ErrNotFound) {
				fmt.Fprintln(out, "Not authenticated.")
				return nil
			}
			if err != nil {
				return err
			}
			printCredentials(out, creds, a.store.Path())
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored LinkedIn credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Clear(); err != nil {
				return fmt.Errorf("failed to clear credentials: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func (a *app) postCmd() *cobra.Command {
	var (
		text         string
		visibility   string
		media        []string
		titles       []string
		descriptions []string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Publish a post as the signed-in member",
		Example: `  linkedin-mcp post --text "Hello LinkedIn"
  linkedin-mcp post --text "Release day" --visibility CONNECTIONS --media shot.png --media-title "Screenshot"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := linkedin.ParseVisibility(visibility)
			if err != nil {
				return err
			}
			creds, err := a.store.Load()
			if err != nil && !errors.Is(err, tokens.ErrNotFound) {
				return err
			}
			if !creds.Valid() {
				return errors.New("not authenticated; run linkedin-mcp login first")
			}

			id, err := a.client.CreatePost(cmd.Context(), creds.AccessToken, creds.Subject, linkedin.PostRequest{
				Text:       text,
				Visibility: v,
				Media:      linkedin.NewMediaRequests(media, titles, descriptions),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully created LinkedIn post with ID: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "post text")
	cmd.Flags().StringVar(&visibility, "visibility", string(linkedin.VisibilityPublic), "PUBLIC or CONNECTIONS")
	cmd.Flags().StringSliceVar(&media, "media", nil, "image or video file to attach (repeatable)")
	cmd.Flags().StringSliceVar(&titles, "media-title", nil, "title for the media file at the same position")
	cmd.Flags().StringSliceVar(&descriptions, "media-description", nil, "description for the media file at the same position")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// printCredentials shows the identity without exposing the token.
func printCredentials(w io.Writer, creds *tokens.Credentials, path string) {
	fmt.Fprintf(w, "\n========================================\n")
	fmt.Fprintf(w, "Name         : %s\n", creds.Name)
	if creds.Email != "" {
		fmt.Fprintf(w, "Email        : %s\n", creds.Email)
	}
	fmt.Fprintf(w, "Member ID    : %s\n", creds.Subject)
	fmt.Fprintf(w, "Access Token : %s\n", logging.Redact(creds.AccessToken))
	if !creds.ExpiresAt.IsZero() {
		if creds.Expired() {
			fmt.Fprintf(w, "Expires      : expired at %s\n", creds.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Fprintf(w, "Expires In   : %s\n", time.Until(creds.ExpiresAt).Round(time.Second))
		}
	}
	if creds.Scope != "" {
		fmt.Fprintf(w, "Scope        : %s\n", creds.Scope)
	}
	fmt.Fprintf(w, "Token File   : %s\n", path)
	fmt.Fprintf(w, "========================================\n")
}
