package listing

import (
	"bytes"
	"context"
	"testing"

	"github.com/nixcached/nixcached/internal/storepath"
)

func TestServeDirectoryRendersSortedLinks(t *testing.T) {
	f := buildFixture(t)
	var buf bytes.Buffer
	if err := ServeDirectory(context.Background(), &buf, f, storepath.Path{}, nil); err != nil {
		t.Fatalf("ServeDirectory: %v", err)
	}
	out := buf.String()

	var positions []int
	for _, name := range []string{"aaa.txt", "link", "run.sh", "subdir", "zzz.txt"} {
		idx := indexOf(out, name)
		if idx < 0 {
			t.Fatalf("expected link to %q in output:\n%s", name, out)
		}
		positions = append(positions, idx)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			t.Fatalf("entries not in sorted order: %v", positions)
		}
	}
}

func TestServeDirectoryDirectoryLinksHaveTrailingSlash(t *testing.T) {
	f := buildFixture(t)
	var buf bytes.Buffer
	if err := ServeDirectory(context.Background(), &buf, f, storepath.Path{}, nil); err != nil {
		t.Fatalf("ServeDirectory: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`href="subdir/"`)) {
		t.Errorf("expected directory entry to link with trailing slash, got:\n%s", buf.String())
	}
}

func TestHasIndexHTML(t *testing.T) {
	f := buildFixture(t)
	if HasIndexHTML(context.Background(), f, storepath.Path{}, nil) {
		t.Error("fixture has no index.html, expected false")
	}
}

func TestContentTypeForName(t *testing.T) {
	if got := ContentTypeForName("README"); got != "application/octet-stream" {
		t.Errorf("ContentTypeForName(%q) = %q, want application/octet-stream", "README", got)
	}
	if got := ContentTypeForName("no-extension-at-all"); got != "application/octet-stream" {
		t.Errorf("ContentTypeForName of an unrecognized extension = %q, want application/octet-stream", got)
	}
	if got := ContentTypeForName("page.html"); got == "" {
		t.Error("expected a non-empty content type for a known extension")
	}
}
