package httpserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/storepath"
)

func setupServeFixture(t *testing.T) (*Server, storepath.Path) {
	t.Helper()
	root := t.TempDir()
	p, err := storepath.Parse("16hvpw4b3r05girazh4rnwbw0jgjkb4l-hello-2.12")
	if err != nil {
		t.Fatal(err)
	}
	pdir := filepath.Join(root, p.Base())
	if err := os.MkdirAll(filepath.Join(pdir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pdir, "docs", "README.txt"), []byte("read me"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newFakeAdapter(root)
	a.register(p, &storeadapter.ValidPathInfo{Path: p})
	return newTestServerWithAdapter(root, a), p
}

func TestHandleServeServesFile(t *testing.T) {
	s, p := setupServeFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/serve/"+p.HashPart()+"/docs/README.txt", nil)
	rec := httptest.NewRecorder()
	s.handleServe(rec, req, p.HashPart()+"/docs/README.txt")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "read me" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "7" {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
}

func TestHandleServeRendersDirectoryListing(t *testing.T) {
	s, p := setupServeFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/serve/"+p.HashPart()+"/docs", nil)
	rec := httptest.NewRecorder()
	s.handleServe(rec, req, p.HashPart()+"/docs")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "README.txt") {
		t.Errorf("expected listing to mention README.txt, got %s", rec.Body.String())
	}
}

func TestHandleServeUnknownHashIs404(t *testing.T) {
	s, _ := setupServeFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/serve/27hvpw4b3r05girazh4rnwbw0jgjkb4l", nil)
	rec := httptest.NewRecorder()
	s.handleServe(rec, req, "27hvpw4b3r05girazh4rnwbw0jgjkb4l")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
