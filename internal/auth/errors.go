package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrBind means the callback port could not be bound.
	ErrBind = errors.New("callback port unavailable")
	// ErrAuthTimeout means no callback arrived within the wait window. The
	// attempt stays completable.
	ErrAuthTimeout = errors.New("authentication timed out waiting for the LinkedIn callback")
	// ErrStateMismatch means the callback's state did not match the attempt's.
	ErrStateMismatch = errors.New("invalid state parameter in callback (possible CSRF attack)")
	// ErrCallbackNotReceived means completion was requested before the
	// browser delivered the redirect.
	ErrCallbackNotReceived = errors.New("no callback received yet; complete the sign-in in your browser first")
	// ErrNoActiveAttempt means there is nothing to complete.
	ErrNoActiveAttempt = errors.New("no authentication in progress; call authenticate first")
	// ErrAttemptInProgress means another call is already validating or
	// exchanging this attempt's code.
	ErrAttemptInProgress = errors.New("authentication is already being completed by another call")
	// ErrAttemptStopped means the attempt was stopped or superseded while the
	// caller waited on it.
	ErrAttemptStopped = errors.New("authentication attempt was stopped")
	// ErrTokenExchange is matched by every *TokenExchangeError.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrBrowserUnavailable is matched by every *ManualAuthorizationError.
	ErrBrowserUnavailable = errors.New("could not open browser")
)

// TokenExchangeError wraps a provider failure after the state check passed.
type TokenExchangeError struct {
	AttemptID string
	Stage     string // "code exchange", "userinfo" or "save"
	Err       error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s failed (attempt %s): %v", e.Stage, e.AttemptID, e.Err)
}

func (e *TokenExchangeError) Unwrap() []error {
	return []error{ErrTokenExchange, e.Err}
}

// ManualAuthorizationError is returned when the browser could not be opened.
// The attempt stays alive; the user opens URL themselves and then completes.
type ManualAuthorizationError struct {
	URL    string
	Reason string
}

func (e *ManualAuthorizationError) Error() string {
	return fmt.Sprintf(
		"Failed to open browser (%s). Please visit the URL manually and then call complete_authentication: %s",
		e.Reason, e.URL,
	)
}

func (e *ManualAuthorizationError) Unwrap() error { return ErrBrowserUnavailable }
