package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calsuggest/internal/log"
)

// Source represents a single calendar document location.
type Source struct {
	// ID is an internal identifier (e.g., config calendar ID).
	ID string
	// URL is an ICS subscription endpoint (http, https or webcal).
	URL string
	// Path is a local ICS file. Used when URL is empty.
	Path string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304 or an upstream failure
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified) and disk-backed cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. If client is nil a client with a 15s timeout is
// used.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "calsuggest", "ics-cache")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// FetchOne fetches a single ICS source. Local paths are read directly;
// URLs honor ETag and Last-Modified and fall back to the cached body when the
// server is unreachable or answers with an error.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		if src.Path == "" {
			return FetchResult{}, fmt.Errorf("source %q has neither URL nor path", src.ID)
		}
		body, err := os.ReadFile(src.Path)
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Source: src, Body: body}, nil
	}

	rawURL := normalizeURL(src.URL)

	cachePath, err := f.cachePathForURL(rawURL)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers from cache metadata.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(rawURL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(rawURL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(rawURL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(rawURL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("fetch %s: %s", redactURL(rawURL), resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) (string, error) {
	if u == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// normalizeURL rewrites webcal:// subscriptions to https://.
func normalizeURL(u string) string {
	if len(u) > 9 && u[:9] == "webcal://" {
		return "https://" + u[9:]
	}
	return u
}

// redactURL hides path and query of an ICS URL for logging purposes, since
// private feeds embed their secret there.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
