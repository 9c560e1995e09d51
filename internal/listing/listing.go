// Package listing implements the listing engine (C5): the ".ls" JSON tree
// and the "/serve/" directory browser, both built from storeadapter's
// Listable capability and both honoring the symlink containment policy.
package listing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nixcached/nixcached/internal/apierror"
	"github.com/nixcached/nixcached/internal/storeadapter"
	"github.com/nixcached/nixcached/internal/storepath"
)

// Node is one entry in a ".ls" tree. Marshaling is hand-rolled rather than
// struct-tag driven so that each node type emits exactly the fields the
// wire format specifies - no zero-value "size":0 leaking into directory or
// symlink nodes, no omitted "size" on an empty regular file.
type Node struct {
	Type       string // "directory", "regular", or "symlink"
	Size       int64
	Executable bool
	Target     string
	Entries    map[string]*Node
}

func (n *Node) MarshalJSON() ([]byte, error) {
	switch n.Type {
	case "directory":
		entries := n.Entries
		if entries == nil {
			entries = map[string]*Node{}
		}
		return json.Marshal(struct {
			Type    string           `json:"type"`
			Entries map[string]*Node `json:"entries"`
		}{n.Type, entries})
	case "regular":
		if n.Executable {
			return json.Marshal(struct {
				Type       string `json:"type"`
				Size       int64  `json:"size"`
				Executable bool   `json:"executable"`
			}{n.Type, n.Size, true})
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			Size int64  `json:"size"`
		}{n.Type, n.Size})
	case "symlink":
		return json.Marshal(struct {
			Type   string `json:"type"`
			Target string `json:"target"`
		}{n.Type, n.Target})
	default:
		return nil, fmt.Errorf("listing: unknown node type %q", n.Type)
	}
}

// Tree is the top-level ".ls" document.
type Tree struct {
	Version int   `json:"version"`
	Root    *Node `json:"root"`
}

// Build recursively walks p's subtree via adapter and returns its Tree.
// Directory entries come back from Go's map key sort in Marshal, which
// orders by raw byte value exactly as the wire format requires. Symlinks
// are recorded with their raw target and never followed, matching the
// "no follow" rule for .ls independent of where the target points.
func Build(ctx context.Context, adapter storeadapter.Listable, p storepath.Path) (*Tree, error) {
	root, err := buildNode(ctx, adapter, p, nil)
	if err != nil {
		return nil, err
	}
	return &Tree{Version: 1, Root: root}, nil
}

func buildNode(ctx context.Context, adapter storeadapter.Listable, p storepath.Path, subpath []string) (*Node, error) {
	entries, err := adapter.Readdir(ctx, p, subpath)
	if err != nil {
		return nil, err
	}

	node := &Node{Type: "directory", Entries: make(map[string]*Node, len(entries))}
	for _, e := range entries {
		childPath := append(append([]string{}, subpath...), e.Name)
		switch e.Kind {
		case storeadapter.KindDirectory:
			child, err := buildNode(ctx, adapter, p, childPath)
			if err != nil {
				return nil, err
			}
			node.Entries[e.Name] = child
		case storeadapter.KindSymlink:
			target, err := adapter.Readlink(ctx, p, childPath)
			if err != nil {
				return nil, err
			}
			node.Entries[e.Name] = &Node{Type: "symlink", Target: target}
		case storeadapter.KindRegular:
			f, size, err := adapter.OpenFile(ctx, p, childPath)
			if err != nil {
				if ae, ok := err.(*apierror.Error); ok && ae.Kind == apierror.NotFound {
					continue // vanished between Readdir and OpenFile
				}
				return nil, err
			}
			f.Close()
			node.Entries[e.Name] = &Node{Type: "regular", Size: size, Executable: e.Executable}
		}
	}
	return node, nil
}
