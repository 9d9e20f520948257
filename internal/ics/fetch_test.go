package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ConditionalRequests(t *testing.T) {
	body := doc(weeklyStandup())
	var (
		status atomic.Int32
		hits   atomic.Int32
	)
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch int(status.Load()) {
		case http.StatusOK:
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write(body)
		default:
			http.Error(w, "down", int(status.Load()))
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL + "/private/secret.ics"}

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, body, res.Body)

	res, err = f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "304 should reuse the cached body")
	assert.Equal(t, body, res.Body)

	status.Store(http.StatusInternalServerError)
	res, err = f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, body, res.Body)

	assert.EqualValues(t, 3, hits.Load())
}

func TestFetcher_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.FetchOne(context.Background(), Source{ID: "x", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(redacted)")
}

func TestFetcher_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "home.ics")
	require.NoError(t, os.WriteFile(path, doc(weeklyStandup()), 0o600))

	f := NewFetcher(dir, nil)
	res, err := f.FetchOne(context.Background(), Source{ID: "home", Path: path})
	require.NoError(t, err)
	assert.Equal(t, doc(weeklyStandup()), res.Body)

	_, err = f.FetchOne(context.Background(), Source{ID: "none"})
	assert.Error(t, err)

	_, err = f.FetchOne(context.Background(), Source{ID: "missing", Path: filepath.Join(dir, "missing.ics")})
	assert.Error(t, err)
}

func TestNormalizeAndRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/cal.ics", normalizeURL("webcal://example.com/cal.ics"))
	assert.Equal(t, "https://example.com/cal.ics", normalizeURL("https://example.com/cal.ics"))

	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/private-abc123/basic.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
