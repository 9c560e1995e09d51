package listing

import (
	"context"
	"html/template"
	"io"
	"mime"
	"path"
	"sort"

	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/storepath"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<ul>
{{range .Entries}}<li><a href="{{.Href}}">{{.Name}}{{.Suffix}}</a></li>
{{end}}</ul>
</body></html>
`))

type indexEntry struct {
	Name   string
	Href   string
	Suffix string
}

type indexData struct {
	Title   string
	Entries []indexEntry
}

// ServeDirectory renders an HTML index of p/subpath's entries into w. If
// the directory holds an index.html, the caller should serve that file's
// raw contents instead; ServeDirectory only produces the synthetic listing
// page for directories without one.
func ServeDirectory(ctx context.Context, w io.Writer, adapter storeadapter.Listable, p storepath.Path, subpath []string) error {
	entries, err := adapter.Readdir(ctx, p, subpath)
	if err != nil {
		return err
	}

	sorted := make([]storeadapter.DirEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	data := indexData{Title: "/" + path.Join(subpath...)}
	for _, e := range sorted {
		suffix := ""
		if e.Kind == storeadapter.KindDirectory {
			suffix = "/"
		}
		data.Entries = append(data.Entries, indexEntry{Name: e.Name, Href: e.Name + suffix, Suffix: suffix})
	}

	return indexTemplate.Execute(w, data)
}

// HasIndexHTML reports whether the directory at p/subpath contains an
// index.html entry, and if so whether it resolves to a regular file.
func HasIndexHTML(ctx context.Context, adapter storeadapter.Listable, p storepath.Path, subpath []string) bool {
	entries, err := adapter.Readdir(ctx, p, subpath)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name == "index.html" && e.Kind == storeadapter.KindRegular {
			return true
		}
	}
	return false
}

// ContentTypeForName infers a response content-type from a served file's
// name extension, defaulting to application/octet-stream for anything
// mime.TypeByExtension doesn't recognize.
func ContentTypeForName(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
