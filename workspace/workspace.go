// Package workspace implements the project file system the agent loop
// mutates: a path-addressable node map over an afero file system, the
// read tool, and file actions (create, update, delete).
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when a path does not exist in the workspace.
	ErrNotFound = errors.New("file not found")
	// ErrIsFolder is returned when a file operation targets a folder.
	ErrIsFolder = errors.New("path is a folder")
	// ErrInvalidPath is returned for empty paths.
	ErrInvalidPath = errors.New("invalid path")
)

// FileActionKind names a mutation applied to a single file.
type FileActionKind string

const (
	ActionCreate FileActionKind = "create"
	ActionUpdate FileActionKind = "update"
	ActionDelete FileActionKind = "delete"
)

// Node is one entry of the workspace node map.
type Node struct {
	Key      Key      `json:"-"`
	Path     string   `json:"path"`
	IsFolder bool     `json:"is_folder"`
	Size     int64    `json:"size,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// skipDirs are never listed.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".codeloop":    true,
}

// Workspace is the file-system collaborator. It is safe for concurrent use.
type Workspace struct {
	fs   afero.Fs
	tags map[Key][]string
	mu   sync.RWMutex
}

// New wraps an afero file system. Paths are resolved against its root.
func New(fsys afero.Fs) *Workspace {
	return &Workspace{
		fs:   fsys,
		tags: make(map[Key][]string),
	}
}

// NewOS returns a workspace rooted at dir on the local disk.
func NewOS(dir string) *Workspace {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewMemory returns an empty in-memory workspace.
func NewMemory() *Workspace {
	return New(afero.NewMemMapFs())
}

// List walks the workspace and returns every node sorted by path.
func (w *Workspace) List() ([]Node, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var nodes []Node
	err := afero.Walk(w.fs, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		key := NewKey(p)
		if key.IsZero() {
			return nil
		}
		if info.IsDir() && skipDirs[path.Base(key.String())] {
			return fs.SkipDir
		}
		nodes = append(nodes, w.nodeFor(key, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// Lookup returns the node for a key.
func (w *Workspace) Lookup(key Key) (Node, bool) {
	if key.IsZero() {
		return Node{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, err := w.fs.Stat(key.abs())
	if err != nil {
		return Node{}, false
	}
	return w.nodeFor(key, info), true
}

func (w *Workspace) nodeFor(key Key, info fs.FileInfo) Node {
	n := Node{
		Key:      key,
		Path:     key.String(),
		IsFolder: info.IsDir(),
		Tags:     append([]string(nil), w.tags[key]...),
	}
	if !n.IsFolder {
		n.Size = info.Size()
	}
	return n
}

// ReadFile returns the full content of a file.
func (w *Workspace) ReadFile(p string) (string, error) {
	key := NewKey(p)
	if key.IsZero() {
		return "", ErrInvalidPath
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	info, err := w.fs.Stat(key.abs())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", key, ErrIsFolder)
	}
	data, err := afero.ReadFile(w.fs, key.abs())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

// WriteFile creates or replaces a file, creating parent folders as needed.
func (w *Workspace) WriteFile(p, content string) error {
	_, err := w.Apply(ActionUpdate, p, content, nil)
	return err
}

// Apply performs a file action and returns a one-line human readable
// result. Tags, when given, replace the stored tags for the path.
func (w *Workspace) Apply(kind FileActionKind, p, content string, tags []string) (string, error) {
	key := NewKey(p)
	if key.IsZero() {
		return "", ErrInvalidPath
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	info, statErr := w.fs.Stat(key.abs())
	exists := statErr == nil
	if exists && info.IsDir() && kind != ActionDelete {
		return "", fmt.Errorf("cannot write %s: %w", key, ErrIsFolder)
	}

	switch kind {
	case ActionCreate, ActionUpdate:
		if err := w.fs.MkdirAll(path.Dir(key.abs()), 0o755); err != nil {
			return "", fmt.Errorf("create parent of %s: %w", key, err)
		}
		if err := afero.WriteFile(w.fs, key.abs(), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", key, err)
		}
		if tags != nil {
			w.tags[key] = normalizeTags(tags)
		}
		verb := "Created"
		if exists {
			verb = "Updated"
		}
		return fmt.Sprintf("%s %s (%d bytes)", verb, key, len(content)), nil

	case ActionDelete:
		if !exists {
			return "", fmt.Errorf("cannot delete %s: %w", key, ErrNotFound)
		}
		if err := w.fs.RemoveAll(key.abs()); err != nil {
			return "", fmt.Errorf("delete %s: %w", key, err)
		}
		prefix := key.String() + "/"
		for k := range w.tags {
			if k == key || strings.HasPrefix(k.String(), prefix) {
				delete(w.tags, k)
			}
		}
		if info.IsDir() {
			return fmt.Sprintf("Deleted folder %s", key), nil
		}
		return fmt.Sprintf("Deleted %s", key), nil

	default:
		return "", fmt.Errorf("unsupported file action %q", kind)
	}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
