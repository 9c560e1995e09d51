package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixcached/nixcached/internal/nar"
	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/storepath"
)

func setupNarFixture(t *testing.T) (*Server, storepath.Path, string) {
	t.Helper()
	root := t.TempDir()
	p, err := storepath.Parse("16hvpw4b3r05girazh4rnwbw0jgjkb4l-hello-2.12")
	if err != nil {
		t.Fatal(err)
	}
	pdir := filepath.Join(root, p.Base())
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pdir, "greeting"), []byte("hello, nar world"), 0o644); err != nil {
		t.Fatal(err)
	}

	narHash, narSize, err := nar.ComputeHash(pdir)
	if err != nil {
		t.Fatal(err)
	}

	a := newFakeAdapter(root)
	a.register(p, &storeadapter.ValidPathInfo{Path: p, NarHashBase32: narHash, NarSize: narSize})
	return newTestServerWithAdapter(root, a), p, pdir
}

func TestHandleNarServesIdentityStream(t *testing.T) {
	s, p, _ := setupNarFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar", nil)
	rec := httptest.NewRecorder()
	s.handleNar(rec, req, p.HashPart()+".nar")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/x-nix-nar" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Error("expected Accept-Ranges: bytes")
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a non-empty NAR body")
	}
}

func TestHandleNarRangeRequest(t *testing.T) {
	s, p, _ := setupNarFixture(t)

	full := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar", nil)
	fullRec := httptest.NewRecorder()
	s.handleNar(fullRec, full, p.HashPart()+".nar")
	fullBody := fullRec.Body.Bytes()

	req := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	s.handleNar(rec, req, p.HashPart()+".nar")

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != string(fullBody[:4]) {
		t.Errorf("ranged body = %q, want %q", body, fullBody[:4])
	}
}

func TestHandleNarConditionalRequestReturns304(t *testing.T) {
	s, p, _ := setupNarFixture(t)

	plain := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar", nil)
	plainRec := httptest.NewRecorder()
	s.handleNar(plainRec, plain, p.HashPart()+".nar")
	etag := plainRec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag on the first response")
	}

	req := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	s.handleNar(rec, req, p.HashPart()+".nar")

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body on 304, got %q", rec.Body.String())
	}
}

func TestHandleNarUnrecognizedSuffixIsBadRequest(t *testing.T) {
	s, p, _ := setupNarFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".tar", nil)
	rec := httptest.NewRecorder()
	s.handleNar(rec, req, p.HashPart()+".tar")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleNarCompressedRejectsRange(t *testing.T) {
	s, p, _ := setupNarFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/nar/"+p.HashPart()+".nar.xz", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	s.handleNar(rec, req, p.HashPart()+".nar.xz")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
