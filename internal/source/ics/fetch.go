package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"weektally/internal/fault"
	"weektally/internal/log"
)

// Subscription identifies a single ICS feed.
type Subscription struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// fetchResult is the outcome of fetching one feed.
type fetchResult struct {
	Body      []byte
	FromCache bool
}

// cacheMeta holds HTTP cache metadata for a single feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher pulls ICS feeds with conditional requests (ETag / Last-Modified)
// and a disk-backed body cache, falling back to the cached body when the
// network is unavailable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates an ICS Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Relative fallback so development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// fetch retrieves one feed body, honoring conditional headers from the
// previous fetch.
func (f *Fetcher) fetch(ctx context.Context, sub Subscription) (fetchResult, error) {
	if sub.URL == "" {
		return fetchResult{}, fault.Providerf("ics source %q has no URL", sub.ID)
	}

	cachePath := f.cachePathForURL(sub.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return fetchResult{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; a cached body keeps the source alive.
		if len(cachedBody) > 0 {
			log.Error("ics fetch network error, using cached body", err, "id", sub.ID, "url", redactURL(sub.URL))
			return fetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return fetchResult{}, fault.Providerf("ics fetch %s: %v", sub.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fetchResult{}, readErr
		}
		newMeta := cacheMeta{
			URL:          sub.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			log.Error("ics cache save failed", err, "id", sub.ID)
		}
		return fetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return fetchResult{}, fault.Providerf("ics fetch %s: 304 with no cached body", sub.ID)
		}
		log.Debug("ics not modified; using cache", "id", sub.ID)
		return fetchResult{Body: cachedBody, FromCache: true}, nil

	default:
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fetchResult{}, fault.Authf("ics fetch %s: %s", sub.ID, resp.Status)
		}
		if len(cachedBody) > 0 {
			log.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", sub.ID, "status", resp.StatusCode)
			return fetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return fetchResult{}, fault.Providerf("ics fetch %s: %s", sub.ID, resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging. Private feed
// URLs routinely embed tokens in the path or query.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
