// Package auth drives the LinkedIn authorization code flow: it starts the
// local callback listener, opens the browser, correlates the redirect with the
// pending attempt and exchanges the code.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/linkedin-mcp/linkedin-mcp/internal/browser"
	"github.com/linkedin-mcp/linkedin-mcp/internal/callback"
	"github.com/linkedin-mcp/linkedin-mcp/internal/config"
	"github.com/linkedin-mcp/linkedin-mcp/internal/linkedin"
	"github.com/linkedin-mcp/linkedin-mcp/internal/logging"
	"github.com/linkedin-mcp/linkedin-mcp/internal/tokens"
)

// Provider exchanges authorization codes and resolves the member's identity.
type Provider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*linkedin.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*linkedin.UserInfo, error)
}

// Store persists the authenticated identity.
type Store interface {
	Load() (*tokens.Credentials, error)
	Save(creds *tokens.Credentials) error
	Clear() error
}

// Opener launches the user's browser.
type Opener interface {
	Available(ctx context.Context) browser.Availability
	Open(ctx context.Context, url string) error
}

// attempt is one pending authorization. Its fields other than status are set
// once in begin and never change.
type attempt struct {
	id            string
	expectedState string
	authURL       string
	startedAt     time.Time
	listener      *callback.Listener
	logger        *log.Entry

	// guarded by Coordinator.mu
	status State
	creds  *tokens.Credentials
}

// Coordinator owns the callback port and at most one pending attempt.
type Coordinator struct {
	provider Provider
	store    Store
	opener   Opener
	addr     string
	path     string
	timeout  time.Duration
	logger   *log.Entry
	newState func() (string, error)

	mu      sync.Mutex
	current *attempt
	last    State
	lastErr error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithListenAddr sets the host:port the callback listener binds.
func WithListenAddr(addr string) Option {
	return func(c *Coordinator) { c.addr = addr }
}

// WithCallbackPath sets the redirect path.
func WithCallbackPath(path string) Option {
	return func(c *Coordinator) { c.path = path }
}

// WithTimeout bounds the blocking wait for the redirect.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBrowser replaces the system browser launcher.
func WithBrowser(o Opener) Option {
	return func(c *Coordinator) { c.opener = o }
}

// WithLogger sets the base log entry.
func WithLogger(l *log.Entry) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New returns an idle coordinator. Defaults match the default redirect URI
// (127.0.0.1:3000/callback) and a 120 second wait.
func New(provider Provider, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		store:    store,
		opener:   browser.System{},
		addr:     "127.0.0.1:3000",
		path:     "/callback",
		timeout:  config.DefaultAuthTimeout,
		logger:   log.WithField("component", "auth"),
		newState: generateState,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate starts a fresh attempt, superseding any pending one, opens
// the browser and waits for the redirect.
//
// When the browser cannot be opened the attempt stays alive and the returned
// *ManualAuthorizationError carries the authorization URL. When the wait
// runs out the listener keeps serving; CompleteAuthentication can finish the
// attempt later.
func (c *Coordinator) Authenticate(ctx context.Context) (*tokens.Credentials, error) {
	a, err := c.begin()
	if err != nil {
		return nil, err
	}

	if avail := c.opener.Available(ctx); !avail.Available {
		a.logger.WithField("reason", avail.Reason).Warn("Not opening a browser")
		return nil, &ManualAuthorizationError{URL: a.authURL, Reason: avail.Reason}
	}
	a.logger.Info("Opening browser for LinkedIn authorization")
	ProgressFrom(ctx)("Opening browser for authentication...")
	if err := c.opener.Open(ctx, a.authURL); err != nil {
		a.logger.WithError(err).Warn("Could not open browser")
		return nil, &ManualAuthorizationError{URL: a.authURL, Reason: err.Error()}
	}

	return c.await(ctx, a)
}

// Await blocks on the pending attempt exactly like Authenticate does after
// the browser opened. It lets a terminal caller keep waiting after a
// *ManualAuthorizationError.
func (c *Coordinator) Await(ctx context.Context) (*tokens.Credentials, error) {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return nil, ErrNoActiveAttempt
	}
	return c.await(ctx, a)
}

// CompleteAuthentication finishes the pending attempt if its redirect has
// arrived. It never waits.
func (c *Coordinator) CompleteAuthentication(ctx context.Context) (*tokens.Credentials, error) {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()

	if a == nil || !a.listener.Running() {
		return nil, ErrNoActiveAttempt
	}
	if !a.listener.Received() {
		if perr := a.listener.ProviderError(); perr != "" {
			return nil, fmt.Errorf("%w: LinkedIn redirected with an error: %s", ErrCallbackNotReceived, perr)
		}
		return nil, ErrCallbackNotReceived
	}
	return c.finish(ctx, a)
}

// Stop abandons the pending attempt and frees the port. Stopping with
// nothing pending succeeds.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.current
	if a == nil {
		return nil
	}
	a.logger.Info("Stopping authentication attempt")
	a.status = StateStopped
	c.current = nil
	c.last, c.lastErr = StateStopped, nil
	return a.listener.Stop()
}

func (c *Coordinator) begin() (*attempt, error) {
	state, err := c.newState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	id := uuid.NewString()
	logger := c.logger.WithField("attempt", id[:8])
	ln := callback.New(c.addr, c.path, logger)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The old listener must release the port before the new one binds.
	if prev := c.current; prev != nil {
		prev.logger.Info("Superseded by a new authentication attempt")
		prev.status = StateStopped
		c.current = nil
		if err := prev.listener.Stop(); err != nil {
			prev.logger.WithError(err).Warn("Superseded listener did not shut down cleanly")
		}
	}

	if err := ln.Start(); err != nil {
		c.last, c.lastErr = StateFailed, err
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	a := &attempt{
		id:            id,
		expectedState: state,
		authURL:       c.provider.AuthCodeURL(state),
		startedAt:     time.Now(),
		listener:      ln,
		logger:        logger,
		status:        StateAwaitingCallback,
	}
	c.current = a
	c.last, c.lastErr = StateAwaitingCallback, nil

	logger.WithFields(log.Fields{
		"listen": ln.Addr(),
		"state":  logging.Redact(state),
	}).Info("Authentication attempt started")
	return a, nil
}

func (c *Coordinator) await(ctx context.Context, a *attempt) (*tokens.Credentials, error) {
	a.logger.WithField("timeout", c.timeout).Info("Waiting for authorization callback")
	ProgressFrom(ctx)("Waiting for authentication callback...")
	if _, ok := a.listener.Wait(ctx, c.timeout); ok || a.listener.Received() {
		return c.finish(ctx, a)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != a {
		if a.status == StateAuthenticated && a.creds != nil {
			return a.creds, nil
		}
		return nil, ErrAttemptStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stopped waiting for the callback: %w; the attempt is still open, call complete_authentication after signing in", err)
	}
	a.status = StateTimedOut
	a.logger.Warn("Timed out waiting for authorization callback")
	return nil, fmt.Errorf(
		"%w after %s. The sign-in can still be finished: complete it in the browser and call complete_authentication, or call authenticate to start over",
		ErrAuthTimeout, c.timeout,
	)
}

// finish validates the captured redirect and exchanges the code. Both entry
// points share it so the state check and teardown rules are identical.
func (c *Coordinator) finish(ctx context.Context, a *attempt) (*tokens.Credentials, error) {
	res, ok := a.listener.Result()
	if !ok {
		return nil, ErrCallbackNotReceived
	}

	c.mu.Lock()
	if c.current != a {
		defer c.mu.Unlock()
		if a.status == StateAuthenticated && a.creds != nil {
			return a.creds, nil
		}
		return nil, ErrAttemptStopped
	}
	if a.status == StateValidating || a.status == StateExchanging {
		c.mu.Unlock()
		return nil, ErrAttemptInProgress
	}
	a.status = StateValidating
	c.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(res.State), []byte(a.expectedState)) != 1 {
		a.logger.WithFields(log.Fields{
			"expected": logging.Redact(a.expectedState),
			"received": logging.Redact(res.State),
		}).Error("State mismatch in authorization callback")
		c.teardown(a, StateFailed, nil, ErrStateMismatch)
		return nil, ErrStateMismatch
	}

	c.setStatus(a, StateExchanging)
	a.logger.Info("Exchanging authorization code for tokens")
	report := ProgressFrom(ctx)
	report("Exchanging authorization code for tokens...")

	tok, err := c.provider.ExchangeCode(ctx, res.Code)
	if err != nil {
		return nil, c.fail(a, "code exchange", err)
	}
	report("Getting user info...")
	info, err := c.provider.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, c.fail(a, "userinfo", err)
	}

	creds := &tokens.Credentials{
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		TokenType:       tok.TokenType,
		IDToken:         tok.IDToken,
		Scope:           tok.Scope,
		ExpiresAt:       tok.ExpiresAt,
		Subject:         info.Sub,
		Name:            info.Name,
		Email:           info.Email,
		AuthenticatedAt: time.Now(),
	}
	// Stop or a newer attempt may have claimed the port while the exchange
	// was in flight; such an attempt must not leave credentials behind.
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		a.logger.Info("Attempt ended during code exchange; discarding credentials")
		return nil, ErrAttemptStopped
	}
	err = c.store.Save(creds)
	c.mu.Unlock()
	if err != nil {
		return nil, c.fail(a, "save", err)
	}

	c.teardown(a, StateAuthenticated, creds, nil)
	a.logger.WithFields(log.Fields{
		"name":    creds.Name,
		"expires": creds.ExpiresAt.Format(time.RFC3339),
	}).Info("Authenticated with LinkedIn")
	return creds, nil
}

func (c *Coordinator) fail(a *attempt, stage string, err error) error {
	e := &TokenExchangeError{AttemptID: a.id, Stage: stage, Err: err}
	a.logger.WithError(err).WithField("stage", stage).Error("Authentication failed")
	c.teardown(a, StateFailed, nil, e)
	return e
}

func (c *Coordinator) setStatus(a *attempt, s State) {
	c.mu.Lock()
	a.status = s
	c.mu.Unlock()
}

// teardown ends the attempt and frees the port while holding the lock, so a
// concurrent begin never races the old listener for the socket. The listener
// is stopped even if the attempt was already superseded.
func (c *Coordinator) teardown(a *attempt, s State, creds *tokens.Credentials, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a.status = s
	a.creds = creds
	if c.current == a {
		c.current = nil
		c.last, c.lastErr = s, err
	}
	if stopErr := a.listener.Stop(); stopErr != nil {
		a.logger.WithError(stopErr).Warn("Callback listener did not shut down cleanly")
	}
}

// StatusReport is a snapshot of the coordinator and the stored identity.
type StatusReport struct {
	State            State
	AttemptID        string
	StartedAt        time.Time
	ListenerAddr     string
	AuthURL          string
	CallbackReceived bool
	ProviderError    string
	LastError        string
	Credentials      *tokens.Credentials
}

// Status reports the pending attempt, if any, and what is stored.
func (c *Coordinator) Status(_ context.Context) StatusReport {
	c.mu.Lock()
	r := StatusReport{State: c.last}
	if c.lastErr != nil {
		r.LastError = c.lastErr.Error()
	}
	a := c.current
	if a != nil {
		r.State = a.status
		r.AttemptID = a.id
		r.StartedAt = a.startedAt
		r.AuthURL = a.authURL
	}
	c.mu.Unlock()

	if a != nil {
		r.ListenerAddr = a.listener.Addr()
		r.CallbackReceived = a.listener.Received()
		r.ProviderError = a.listener.ProviderError()
		if r.CallbackReceived && (r.State == StateAwaitingCallback || r.State == StateTimedOut) {
			r.State = StateCallbackReceived
		}
	}

	creds, err := c.store.Load()
	switch {
	case err == nil:
		r.Credentials = creds
	case !errors.Is(err, tokens.ErrNotFound):
		c.logger.WithError(err).Warn("Failed to read stored credentials")
	}
	return r
}

// String renders the report for humans.
func (r StatusReport) String() string {
	var b strings.Builder

	switch creds := r.Credentials; {
	case creds == nil:
		b.WriteString("Not authenticated.")
	case creds.Expired():
		fmt.Fprintf(&b, "Stored credentials for %s expired at %s. Please authenticate again.",
			identity(creds), creds.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(&b, "Authenticated as %s.", identity(creds))
		if !creds.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, " Token expires at %s.", creds.ExpiresAt.Format(time.RFC3339))
		}
	}

	switch r.State {
	case StateAwaitingCallback:
		fmt.Fprintf(&b, "\nAuthentication in progress: waiting for the LinkedIn callback on %s (started %s ago).",
			r.ListenerAddr, time.Since(r.StartedAt).Round(time.Second))
	case StateTimedOut:
		fmt.Fprintf(&b, "\nAuthentication timed out but the callback server on %s is still listening. "+
			"Finish signing in and call complete_authentication.", r.ListenerAddr)
	case StateCallbackReceived:
		b.WriteString("\nCallback received. Call complete_authentication to finish signing in.")
	case StateValidating, StateExchanging:
		b.WriteString("\nCompleting authentication.")
	case StateFailed:
		b.WriteString("\nLast authentication attempt failed")
		if r.LastError != "" {
			fmt.Fprintf(&b, ": %s", r.LastError)
		}
		b.WriteString(".")
	}
	if r.ProviderError != "" {
		fmt.Fprintf(&b, "\nLinkedIn reported: %s", r.ProviderError)
	}
	return b.String()
}

// Summary is the success message shown after authenticating.
func Summary(creds *tokens.Credentials) string {
	return fmt.Sprintf("Successfully authenticated with LinkedIn as %s!", identity(creds))
}

func identity(creds *tokens.Credentials) string {
	name := creds.Name
	if name == "" {
		name = creds.Subject
	}
	if creds.Email != "" {
		return fmt.Sprintf("%s (%s)", name, creds.Email)
	}
	return name
}
