package thinserve_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/yinfei8/thinserve"
)

func TestSiteServesStaticAndAPI(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello static"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	_, srv := newTestServer(t)
	site, err := thinserve.NewSite(srv, dir)
	if err != nil {
		t.Fatalf("NewSite: %v", err)
	}
	ts := httptest.NewServer(site)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /index.html: status = %d, want 200", resp.StatusCode)
	}

	_, obj := postJSON(t, ts.URL+"/api", []any{"create_session", map[string]any{}})
	if _, ok := obj["session"]; !ok {
		t.Errorf("POST /api via Site: missing session in %v", obj)
	}
}

func TestSiteRejectsReservedStaticName(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "api"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}

	_, srv := newTestServer(t)
	if _, err := thinserve.NewSite(srv, dir); err == nil {
		t.Error("NewSite with a static \"api\" entry: expected error, got nil")
	}
}
