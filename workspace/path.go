package workspace

import "strings"

// Normalize canonicalizes a path string for comparison. It trims
// surrounding whitespace, converts back-slashes to forward slashes and
// strips any leading run of "./" or "/" segments. Normalize is idempotent.
func Normalize(path string) string {
	p := path
	for {
		prev := p
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\\", "/")
		for {
			switch {
			case strings.HasPrefix(p, "./"):
				p = p[2:]
				continue
			case strings.HasPrefix(p, "/"):
				p = p[1:]
				continue
			}
			break
		}
		if p == "." {
			p = ""
		}
		if p == prev {
			return p
		}
	}
}

// Key is the canonical identity of a workspace path. The zero Key is the
// workspace root. Keys are comparable and are the only type used for
// membership tests and map lookups.
type Key struct {
	path string
}

// NewKey builds a Key from an arbitrary path string.
func NewKey(path string) Key {
	return Key{path: Normalize(path)}
}

// KeysOf converts a list of raw paths into keys, preserving order.
func KeysOf(paths []string) []Key {
	keys := make([]Key, len(paths))
	for i, p := range paths {
		keys[i] = NewKey(p)
	}
	return keys
}

// String returns the canonical path.
func (k Key) String() string { return k.path }

// IsZero reports whether the key names the workspace root (an empty path).
func (k Key) IsZero() bool { return k.path == "" }

// abs returns the rooted form used against the underlying afero file system.
func (k Key) abs() string { return "/" + k.path }

// Strings converts keys back to canonical path strings.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.path
	}
	return out
}
