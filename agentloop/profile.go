package agentloop

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvironmentProfile describes the project's runtime environment: the
// rules block of the system prompt and the files that identify it.
type EnvironmentProfile struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Rules       string   `yaml:"rules"`
	TestHint    string   `yaml:"test_hint,omitempty"`
	MarkerFiles []string `yaml:"marker_files,omitempty"`
}

// GenericProfile is used for unknown environment tags.
const GenericProfile = "generic"

var builtinProfiles = []EnvironmentProfile{
	{
		ID:          "go",
		DisplayName: "Go",
		MarkerFiles: []string{"go.mod"},
		Rules: `- Write idiomatic Go formatted as gofmt would.
- Return errors explicitly; wrap them with fmt.Errorf("...: %w", err).
- Keep package names short and lower case; one package per directory.
- Tests live next to the code in *_test.go files and use the testing package.`,
		TestHint: "run_test with a *_test.go path runs that file's package; \"all\" runs ./...",
	},
	{
		ID:          "node",
		DisplayName: "Node.js",
		MarkerFiles: []string{"package.json"},
		Rules: `- Use modern ES modules and async/await.
- Keep package.json dependencies in sync with the imports you add.
- Tests live in *.test.js or *.spec.js files.`,
		TestHint: "run_test with a test file path or \"all\".",
	},
	{
		ID:          "python",
		DisplayName: "Python",
		MarkerFiles: []string{"pyproject.toml", "requirements.txt"},
		Rules: `- Follow PEP 8 and add type hints to public functions.
- Prefer the standard library; declare new dependencies explicitly.
- Tests live in test_*.py files.`,
		TestHint: "run_test with a test_*.py path or \"all\".",
	},
	{
		ID:          "web",
		DisplayName: "Static web",
		MarkerFiles: []string{"index.html"},
		Rules: `- Plain HTML, CSS and JavaScript with no build step.
- index.html is the entry point; reference scripts and styles by relative path.
- Keep markup semantic and accessible.`,
	},
	{
		ID:          GenericProfile,
		DisplayName: "Generic",
		Rules: `- Follow the conventions already present in the project.
- Keep changes minimal and focused on the request.`,
	},
}

// ProfileSet resolves environment tags to profiles.
type ProfileSet struct {
	profiles map[string]EnvironmentProfile
	mu       sync.RWMutex
}

// NewProfileSet returns the built-in profiles.
func NewProfileSet() *ProfileSet {
	ps := &ProfileSet{profiles: make(map[string]EnvironmentProfile)}
	for _, p := range builtinProfiles {
		ps.profiles[p.ID] = p
	}
	return ps
}

// Get returns the profile for tag, falling back to the generic profile.
func (ps *ProfileSet) Get(tag string) EnvironmentProfile {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if p, ok := ps.profiles[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return p
	}
	return ps.profiles[GenericProfile]
}

// IDs returns the sorted profile ids.
func (ps *ProfileSet) IDs() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	ids := make([]string, 0, len(ps.profiles))
	for id := range ps.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds or replaces a profile.
func (ps *ProfileSet) Register(p EnvironmentProfile) error {
	id := strings.ToLower(strings.TrimSpace(p.ID))
	if id == "" {
		return fmt.Errorf("environment profile has no id")
	}
	if strings.TrimSpace(p.Rules) == "" {
		return fmt.Errorf("environment profile %q has no rules", id)
	}
	p.ID = id
	if p.DisplayName == "" {
		p.DisplayName = id
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.profiles[id] = p
	return nil
}

// LoadProfiles reads a YAML document of the form
//
//	environments:
//	  - id: rust
//	    rules: |
//	      - Use cargo.
//
// and registers every profile in it.
func (ps *ProfileSet) LoadProfiles(r io.Reader) error {
	var doc struct {
		Environments []EnvironmentProfile `yaml:"environments"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode environment profiles: %w", err)
	}
	for _, p := range doc.Environments {
		if err := ps.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// LoadProfilesFile loads profiles from a YAML file.
func (ps *ProfileSet) LoadProfilesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open environment profiles: %w", err)
	}
	defer f.Close()
	return ps.LoadProfiles(f)
}

// DetectEnvironment guesses an environment tag from the project's marker
// files. It returns GenericProfile when nothing matches.
func (ps *ProfileSet) DetectEnvironment(fs FileSystem) string {
	nodes, err := fs.List()
	if err != nil {
		return GenericProfile
	}
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if !n.IsFolder {
			present[n.Path] = true
		}
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, id := range []string{"go", "node", "python", "web"} {
		p, ok := ps.profiles[id]
		if !ok {
			continue
		}
		for _, m := range p.MarkerFiles {
			if present[m] {
				return id
			}
		}
	}
	return GenericProfile
}
