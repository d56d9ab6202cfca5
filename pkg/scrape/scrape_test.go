package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>body</html>"))
	}))
	defer server.Close()

	c := New(5*time.Second, 2, time.Millisecond, "test-agent/1.0")
	res, err := c.Get(context.Background(), server.URL+"/articles/abc")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/articles/abc", res.ResolvedURL)
	assert.Equal(t, []byte("<html>body</html>"), res.Body)
	assert.Contains(t, res.ContentType, "text/html")
}

func TestGetRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := New(5*time.Second, 2, time.Millisecond, "")
	res, err := c.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), res.Body)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(5*time.Second, 3, time.Millisecond, "")
	_, err := c.Get(context.Background(), server.URL)
	require.Error(t, err)

	fetchErr := &Error{}
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindHTTPStatus, fetchErr.Kind)
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetExhaustedRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(5*time.Second, 2, time.Millisecond, "")
	_, err := c.Get(context.Background(), server.URL)

	fetchErr := &Error{}
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindHTTPStatus, fetchErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, fetchErr.Status)
	assert.False(t, fetchErr.Timeout())
	assert.EqualValues(t, 3, calls.Load(), "first attempt plus two retries")
}

func TestGetTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := New(20*time.Millisecond, 0, time.Millisecond, "")
	_, err := c.Get(context.Background(), server.URL)

	fetchErr := &Error{}
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindTimeout, fetchErr.Kind)
	assert.True(t, fetchErr.Timeout())
}

func TestGetNetworkError(t *testing.T) {
	t.Parallel()

	c := New(time.Second, 0, time.Millisecond, "")
	_, err := c.Get(context.Background(), "http://127.0.0.1:1/nothing-listens-here")

	fetchErr := &Error{}
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindNetwork, fetchErr.Kind)
	assert.False(t, fetchErr.Timeout())
}
