package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/errors"
)

func TestNewHTTPClient_Options(t *testing.T) {
	client := NewHTTPClient()
	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.Nil(t, client.CheckRedirect)

	transport := &http.Transport{}
	client = NewHTTPClient(WithTimeout(8*time.Second), WithTransport(transport), nil)
	assert.Equal(t, 8*time.Second, client.Timeout)
	assert.Same(t, transport, client.Transport)
}

func TestWithMaxRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("final"))
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hop.Close()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, hop.URL, http.StatusFound)
	}))
	defer first.Close()

	client := NewHTTPClient(WithMaxRedirects(1))

	resp, err := Get(context.Background(), client, hop.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "final", string(resp.Body))

	resp, err = Get(context.Background(), client, first.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode, "second redirect is returned, not followed")
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Accept", "application/json")
	resp, err := Get(context.Background(), server.Client(), server.URL, header)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestGet_ClassifiesFailures(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	t.Run("timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := Get(ctx, slow.Client(), slow.URL, nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeTimeout), "got %v", err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()
		_, err := Get(ctx, slow.Client(), slow.URL, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("connection refused", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		url := closed.URL
		closed.Close()

		_, err := Get(context.Background(), NewHTTPClient(WithTimeout(time.Second)), url, nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection), "got %v", err)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := Get(context.Background(), NewHTTPClient(), "://nope", nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}
