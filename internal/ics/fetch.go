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

	appLog "occal/internal/log"
	"occal/internal/model"
)

// Source is a single ICS subscription feed.
type Source struct {
	// ID is the internal identifier used for logging and as the scope UID
	// of the fetched calendar object.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// Fetcher downloads ICS feeds with conditional requests (ETag /
// Last-Modified) backed by a disk cache, so an unreachable feed degrades
// to its last known body instead of dropping off the calendar.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// cacheMeta holds the HTTP validators for one cached feed body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewFetcher creates a Fetcher caching under cacheDir.
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

// FetchAll fetches every source and returns the calendar objects that
// produced a body, from network or cache. Per-source failures are logged
// and collected; they never abort the batch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]model.RawCalendarObject, []error) {
	objects := make([]model.RawCalendarObject, 0, len(sources))
	var errs []error

	for _, src := range sources {
		obj, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		objects = append(objects, obj)
	}
	return objects, errs
}

// FetchOne fetches a single feed, honoring cached validators.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (model.RawCalendarObject, error) {
	if src.URL == "" {
		return model.RawCalendarObject{}, errors.New("ics: source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return model.RawCalendarObject{}, err
	}

	meta, _ := f.loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return model.RawCalendarObject{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return model.RawCalendarObject{UID: src.ID, Data: string(cached)}, nil
		}
		return model.RawCalendarObject{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return model.RawCalendarObject{}, readErr
		}
		newMeta := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return model.RawCalendarObject{UID: src.ID, Data: string(body)}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return model.RawCalendarObject{}, errors.New("ics: 304 Not Modified but no cached body")
		}
		appLog.Debug("ics fetch not modified, using cache", "id", src.ID, "url", redactURL(src.URL))
		return model.RawCalendarObject{UID: src.ID, Data: string(cached)}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL))
			return model.RawCalendarObject{UID: src.ID, Data: string(cached)}, nil
		}
		return model.RawCalendarObject{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadMeta(cachePath string) (cacheMeta, error) {
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

func (f *Fetcher) saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first, so the metadata never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query of a feed URL for logging; private feed
// URLs routinely embed tokens.
func redactURL(u string) string {
	const suffix = "/...(redacted)"

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
	return u[:j] + suffix
}
