package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startListener binds a fresh listener on an ephemeral loopback port.
func startListener(t *testing.T) *Listener {
	t.Helper()
	l := New("127.0.0.1:0", "/callback", nil)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func get(t *testing.T, l *Listener, query url.Values) (int, string) {
	t.Helper()
	u := fmt.Sprintf("http://%s/callback?%s", l.Addr(), query.Encode())
	resp, err := http.Get(u) //nolint:noctx,gosec
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestListener_Success(t *testing.T) {
	l := startListener(t)

	done := make(chan Result, 1)
	go func() {
		r, ok := l.Wait(context.Background(), 3*time.Second)
		if ok {
			done <- r
		}
		close(done)
	}()

	status, body := get(t, l, url.Values{"code": {"mycode123"}, "state": {"st-1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authorization Received")

	select {
	case r, ok := <-done:
		require.True(t, ok, "Wait returned without a result")
		assert.Equal(t, Result{Code: "mycode123", State: "st-1"}, r)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback result")
	}
	assert.True(t, l.Received())
}

func TestListener_MalformedKeepsWaiting(t *testing.T) {
	l := startListener(t)

	done := make(chan bool, 1)
	go func() {
		_, ok := l.Wait(context.Background(), 2*time.Second)
		done <- ok
	}()

	status, body := get(t, l, url.Values{"state": {"st-1"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Authorization Failed")

	status, _ = get(t, l, url.Values{"code": {"c"}})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.False(t, l.Received(), "malformed requests must not set the signal")

	// The waiter is still parked; a well-formed request releases it.
	status, _ = get(t, l, url.Values{"code": {"c"}, "state": {"s"}})
	assert.Equal(t, http.StatusOK, status)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestListener_ProviderError(t *testing.T) {
	l := startListener(t)

	status, body := get(t, l, url.Values{
		"error":             {"user_cancelled_login"},
		"error_description": {"The member declined"},
		"state":             {"st"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "user_cancelled_login")
	assert.False(t, l.Received())
	assert.Equal(t, "user_cancelled_login: The member declined", l.ProviderError())
}

func TestListener_DuplicateNeverOverwrites(t *testing.T) {
	l := startListener(t)

	status, _ := get(t, l, url.Values{"code": {"first"}, "state": {"s1"}})
	require.Equal(t, http.StatusOK, status)

	// A browser reload repeats the same pair.
	status, body := get(t, l, url.Values{"code": {"first"}, "state": {"s1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authorization Received")

	status, _ = get(t, l, url.Values{"code": {"second"}, "state": {"s2"}})
	assert.Equal(t, http.StatusConflict, status)

	r, ok := l.Result()
	require.True(t, ok)
	assert.Equal(t, Result{Code: "first", State: "s1"}, r)
}

func TestListener_ConcurrentCallbacks(t *testing.T) {
	l := startListener(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := fmt.Sprintf("http://%s/callback?code=c%d&state=s%d", l.Addr(), i, i)
			resp, err := http.Get(u) //nolint:noctx,gosec
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	r, ok := l.Result()
	require.True(t, ok)
	assert.NotEmpty(t, r.Code)
	assert.Equal(t, r.Code[1:], r.State[1:], "code and state must come from the same request")
}

func TestListener_WaitTimeout(t *testing.T) {
	l := startListener(t)

	start := time.Now()
	r, ok := l.Wait(context.Background(), 100*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, Result{}, r)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, l.Running(), "a timed-out wait must not stop the listener")
}

func TestListener_WaitContextCancelled(t *testing.T) {
	l := startListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := l.Wait(ctx, time.Minute)
	assert.False(t, ok)
	assert.True(t, l.Running())
}

func TestListener_StopReleasesWaiterAndPort(t *testing.T) {
	l := New("127.0.0.1:0", "/callback", nil)
	require.NoError(t, l.Start())
	addr := l.Addr()

	done := make(chan bool, 1)
	go func() {
		_, ok := l.Wait(context.Background(), time.Minute)
		done <- ok
	}()

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop(), "second Stop must be a no-op")
	assert.False(t, l.Running())

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not release the waiter")
	}

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "port should be free after Stop")
	ln.Close()

	assert.ErrorIs(t, l.Start(), ErrListenerClosed)
}

// freeAddr reserves an ephemeral port and releases it so a test can
// bind the same address repeatedly.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestListener_FixedPortRebindAfterStop(t *testing.T) {
	addr := freeAddr(t)

	for i := range 25 {
		l := New(addr, "/callback", nil)
		require.NoError(t, l.Start(), "start %d", i)
		require.NoError(t, l.Stop(), "stop %d", i)

		ln, err := net.Listen("tcp", addr)
		require.NoError(t, err, "port still held after stop %d", i)
		require.NoError(t, ln.Close())
	}
}

func TestListener_StartIdempotent(t *testing.T) {
	l := startListener(t)
	addr := l.Addr()

	require.NoError(t, l.Start())
	assert.Equal(t, addr, l.Addr(), "second Start must not rebind")
}

func TestListener_BindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	l := New(busy.Addr().String(), "/callback", nil)
	err = l.Start()

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "expected *BindError, got %v", err)
	assert.Equal(t, busy.Addr().String(), bindErr.Addr)
	assert.False(t, l.Running())
}

func TestListener_MethodAndPath(t *testing.T) {
	l := startListener(t)

	resp, err := http.Post("http://"+l.Addr()+"/callback?code=c&state=s", "text/plain", nil) //nolint:noctx
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get("http://" + l.Addr() + "/other?code=c&state=s") //nolint:noctx
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.False(t, l.Received())
}
