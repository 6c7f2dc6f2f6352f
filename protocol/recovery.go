package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Stage is one named attempt at turning text into a JSON object.
type Stage struct {
	Name  string
	Apply func(text string) (map[string]any, error)
}

// StageError records why a stage rejected its input.
type StageError struct {
	Stage string
	Err   error
}

// ParseError is returned when no recovery stage produced an object.
type ParseError struct {
	Reason   string
	Attempts []StageError
}

func (e *ParseError) Error() string {
	if len(e.Attempts) == 0 {
		return "parse response: " + e.Reason
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Stage, a.Err)
	}
	return fmt.Sprintf("parse response: %s (%s)", e.Reason, strings.Join(parts, "; "))
}

var errNoObject = errors.New("no JSON object found")

// RecoveryStages are applied in order until one succeeds.
var RecoveryStages = []Stage{
	{Name: "strict", Apply: strictObject},
	{Name: "lenient", Apply: lenientObject},
	{Name: "strip-tags", Apply: stripTagsObject},
}

// Recover runs text through the recovery stages and returns the first
// decoded object. A nil stages slice means RecoveryStages.
func Recover(text string, stages ...Stage) (map[string]any, error) {
	if len(stages) == 0 {
		stages = RecoveryStages
	}
	perr := &ParseError{Reason: "invalid JSON payload"}
	for _, st := range stages {
		obj, err := st.Apply(text)
		if err == nil {
			return obj, nil
		}
		perr.Attempts = append(perr.Attempts, StageError{Stage: st.Name, Err: err})
	}
	return nil, perr
}

// ExtractObject leniently pulls the first balanced JSON object out of free
// text, tolerating code fences and surrounding prose.
func ExtractObject(text string) (map[string]any, error) {
	return Recover(text, Stage{Name: "lenient", Apply: lenientObject})
}

func strictObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNoObject
	}
	return obj, nil
}

var fenceLine = regexp.MustCompile("(?m)^\\s*```[a-zA-Z0-9_-]*\\s*$")

func lenientObject(text string) (map[string]any, error) {
	cleaned := fenceLine.ReplaceAllString(text, "")
	candidates := findJSONCandidates(cleaned)
	if len(candidates) == 0 {
		return nil, errNoObject
	}
	var firstErr error
	for _, c := range candidates {
		obj, err := strictObject(c)
		if err == nil {
			return obj, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

var anyTag = regexp.MustCompile(`#\[[a-z-]+\]`)

func stripTagsObject(text string) (map[string]any, error) {
	return lenientObject(anyTag.ReplaceAllString(text, ""))
}

// findJSONCandidates returns every top-level {...} span in s. It tracks
// string literals and escapes so braces inside strings do not count.
func findJSONCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}
