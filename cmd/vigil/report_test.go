package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchSnapshot(t *testing.T) {
	t.Parallel()

	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"object":"vigil.snapshot"}`))
	}))
	defer srv.Close()

	// A bare host:port is the common --addr form; the scheme is implied.
	addr := strings.TrimPrefix(srv.URL, "http://")
	raw, err := fetchSnapshot(context.Background(), addr)
	if err != nil {
		t.Fatalf("fetchSnapshot: %v", err)
	}
	if gotPath != "/v1/snapshot" {
		t.Fatalf("fetched %q, want /v1/snapshot", gotPath)
	}
	if !strings.HasPrefix(gotAgent, "vigil/") {
		t.Fatalf("user agent %q, want a vigil/ prefix", gotAgent)
	}
	if !strings.Contains(string(raw), "vigil.snapshot") {
		t.Fatalf("unexpected body %q", raw)
	}
}

func TestFetchSnapshotServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := fetchSnapshot(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestFetchClientBounded(t *testing.T) {
	t.Parallel()

	if fetchClient.Timeout <= 0 {
		t.Fatal("fetch client must carry a timeout so a wedged server cannot hang the CLI")
	}
}
