package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchOneCachesAndRevalidates(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "feed", URL: srv.URL}

	obj, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, "feed", obj.UID)
	require.Equal(t, body, obj.Data)

	// Second fetch revalidates and serves the cached body on 304.
	obj, err = f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, body, obj.Data)
	require.Equal(t, 2, hits)
}

func TestFetchOneFallsBackToCacheOnNetworkError(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	f := NewFetcher(t.TempDir())
	src := Source{ID: "feed", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	// Kill the server; the cached body keeps the feed alive.
	srv.Close()
	obj, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, body, obj.Data)
}

func TestFetchAllCollectsPerSourceErrors(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	objects, errs := f.FetchAll(context.Background(), []Source{
		{ID: "good", URL: srv.URL},
		{ID: "empty-url"},
	})

	require.Len(t, objects, 1)
	require.Equal(t, "good", objects[0].UID)
	require.Len(t, errs, 1)
}

func TestRedactURL(t *testing.T) {
	require.Equal(t,
		"https://example.com/...(redacted)",
		redactURL("https://example.com/private/cal.ics?token=abcd"))
	require.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
