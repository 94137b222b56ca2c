// Package callback runs the short-lived local HTTP endpoint that receives the
// provider's authorization redirect.
//
// A Listener captures exactly one (code, state) pair. The pair is written
// before the received signal fires, so anyone who observes the signal also
// observes the pair. Later deliveries never overwrite it.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 2 * time.Second

// ErrListenerClosed is returned by Start once the listener has been stopped.
// A stopped listener is never reused; a new attempt gets a new Listener.
var ErrListenerClosed = errors.New("callback listener already stopped")

// BindError reports that the callback address could not be bound, usually
// because the port is in use.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to start callback listener on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Result is the captured redirect.
type Result struct {
	Code  string
	State string
}

// Listener is a one-shot redirect receiver.
type Listener struct {
	addr   string
	path   string
	logger *log.Entry

	mu          sync.Mutex
	srv         *http.Server
	ln          net.Listener
	started     bool
	closed      bool
	providerErr string

	once     sync.Once
	result   Result
	received chan struct{}
	stopped  chan struct{}
}

// New prepares a listener for addr (host:port) serving path. Nothing is bound
// until Start.
func New(addr, path string, logger *log.Entry) *Listener {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if path == "" {
		path = "/"
	}
	return &Listener{
		addr:     addr,
		path:     path,
		logger:   logger,
		received: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start binds the socket and begins serving in the background. Calling Start
// on a running listener is a no-op.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleCallback)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return &BindError{Addr: l.addr, Err: err}
	}

	l.srv = srv
	l.ln = ln
	l.started = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Errorf("Callback listener stopped unexpectedly: %v", err)
		}
	}()

	l.logger.WithField("addr", ln.Addr().String()).Info("Callback listener started")
	return nil
}

// Stop releases the port. It is safe to call more than once and from any
// goroutine; pending Wait calls return immediately.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	srv, ln := l.srv, l.ln
	l.mu.Unlock()

	close(l.stopped)
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	if shutdownErr != nil {
		_ = srv.Close()
	}
	// Shutdown only closes listeners Serve has registered; the serving
	// goroutine may not have reached that point yet.
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to release callback port: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("failed to stop callback listener: %w", shutdownErr)
	}
	l.logger.Info("Callback listener stopped")
	return nil
}

// Wait blocks until a redirect is captured, the timeout elapses, ctx is done,
// or the listener is stopped. Only a capture reports true. The listener keeps
// serving regardless of how Wait returns.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) (Result, bool) {
	if r, ok := l.Result(); ok {
		return r, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.received:
		return l.result, true
	case <-l.stopped:
	case <-ctx.Done():
	case <-timer.C:
	}
	return Result{}, false
}

// Received reports whether a redirect has been captured.
func (l *Listener) Received() bool {
	select {
	case <-l.received:
		return true
	default:
		return false
	}
}

// Result returns the captured redirect, if any.
func (l *Listener) Result() (Result, bool) {
	select {
	case <-l.received:
		return l.result, true
	default:
		return Result{}, false
	}
}

// ProviderError is the last error redirect the provider sent (for example the
// user cancelled the consent screen), formatted for humans.
func (l *Listener) ProviderError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providerErr
}

// Running reports whether the socket is bound.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started && !l.closed
}

// Addr is the bound address, or the configured one before Start.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.addr
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		msg := oauthErr
		if desc := q.Get("error_description"); desc != "" {
			msg = oauthErr + ": " + desc
		}
		l.mu.Lock()
		l.providerErr = msg
		l.mu.Unlock()
		l.logger.Warnf("Provider returned an error redirect: %s", msg)
		writeCallbackPage(w, http.StatusBadRequest, false, msg)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		l.logger.Warn("Ignoring callback request without code or state")
		writeCallbackPage(w, http.StatusBadRequest, false,
			"The authorization response is missing the code or state parameter.")
		return
	}

	incoming := Result{Code: code, State: state}
	first := false
	l.once.Do(func() {
		l.result = incoming
		first = true
		close(l.received)
	})

	if !first && l.result != incoming {
		l.logger.Warn("Rejecting second authorization response; the first one is kept")
		writeCallbackPage(w, http.StatusConflict, false,
			"An authorization response was already received for this sign-in attempt.")
		return
	}

	if first {
		l.logger.Info("Authorization response received")
	}
	writeCallbackPage(w, http.StatusOK, true, "")
}
