package ports

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsPositivePort(t *testing.T) {
	a := NewAllocator()

	port, err := a.Allocate(nil)
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)
}

func TestAllocateRespectsBlacklist(t *testing.T) {
	a := NewAllocator()

	// Small ports are never ephemeral, so this exercises the lookup
	// without forcing a retry; the retry path is covered below.
	blacklist := map[int]struct{}{1: {}, 2: {}, 3: {}}
	port, err := a.Allocate(blacklist)
	require.NoError(t, err)
	assert.Greater(t, port, 3)
}

func TestAllocateRetriesBlacklistedPort(t *testing.T) {
	a := NewAllocator()

	first, err := a.Allocate(nil)
	require.NoError(t, err)

	// Blacklisting a just-released ephemeral port makes a rebind of the
	// same port possible, so the loop has something real to skip.
	port, err := a.Allocate(map[int]struct{}{first: {}})
	require.NoError(t, err)
	assert.NotEqual(t, first, port)
}

func TestServerAllocatesOverSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "portd.sock")
	srv := NewServer(socket)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
		require.NoError(t, <-errCh)
	})

	client := NewClient(socket)
	waitForSocket(t, client)

	port, err := client.FreePort(context.Background(), []int{1, 2, 3})
	require.NoError(t, err)
	assert.Greater(t, port, 3)
}

func TestServerRejectsBadBlacklist(t *testing.T) {
	srv := NewServer(filepath.Join(t.TempDir(), "portd.sock"))

	req := httptest.NewRequest(http.MethodGet, "/?blacklist=oops", nil)
	w := httptest.NewRecorder()
	srv.handleAllocate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerRejectsNonGet(t *testing.T) {
	srv := NewServer(filepath.Join(t.TempDir(), "portd.sock"))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()
	srv.handleAllocate(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestClientRejectsGarbageBody(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "portd.sock")
	srv := NewServer(socket)
	srv.srv.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a port"))
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
		require.NoError(t, <-errCh)
	})

	client := NewClient(socket)
	waitForSocket(t, client)

	_, err := client.FreePort(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-numeric")
}

// waitForSocket polls until the server's socket accepts requests
func waitForSocket(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://portd/", nil)
		if err != nil {
			return false
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "portd socket never came up")
}
