// Package protocol implements the tagged multi-section wire format the
// model uses to reply, the closed set of actions it may request, and the
// schema those actions are validated against.
//
// A reply is a sequence of sections:
//
//	#[plan-description]
//	Refactor the parser into two files.
//	#[end-plan-description]
//	#[json-data]
//	{"action":"start_multi_file","plan":{"files_to_modify":["a.go","b.go"]},"first_file":{"path":"a.go","action":"update"}}
//	#[end-json-data]
//	#[content-file]
//	package a
//	#[end-content-file]
//
// Exactly one json-data section is required. Tag names and the single-line
// JSON constraint are part of the compatibility surface.
package protocol

import (
	"regexp"
	"strings"
)

// Section tags understood by the parser.
const (
	TagPlanDescription = "plan-description"
	TagJSONData        = "json-data"
	TagFileMessage     = "file-message"
	TagContentFile     = "content-file"
)

// Section is one tagged block of a reply, in source order.
type Section struct {
	Tag  string
	Body string
}

var openTag = regexp.MustCompile(`#\[(plan-description|json-data|file-message|content-file)\]`)

// Sections scans raw for matching #[tag] ... #[end-tag] pairs. An opening
// tag without its closing partner is skipped.
func Sections(raw string) []Section {
	var out []Section
	pos := 0
	for pos < len(raw) {
		loc := openTag.FindStringSubmatchIndex(raw[pos:])
		if loc == nil {
			break
		}
		tag := raw[pos+loc[2] : pos+loc[3]]
		bodyStart := pos + loc[1]
		closing := "#[end-" + tag + "]"
		end := strings.Index(raw[bodyStart:], closing)
		if end < 0 {
			pos = bodyStart
			continue
		}
		out = append(out, Section{Tag: tag, Body: raw[bodyStart : bodyStart+end]})
		pos = bodyStart + end + len(closing)
	}
	return out
}

// camelTag converts "plan-description" to "planDescription".
func camelTag(tag string) string {
	parts := strings.Split(tag, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// Parse decodes a raw model reply into a single JSON object. Tagged
// replies are decoded from their json-data section and hydrated with the
// free-form sections; untagged replies are decoded as one JSON object.
func Parse(raw string) (map[string]any, error) {
	sections := Sections(raw)
	if len(sections) == 0 {
		obj, err := Recover(raw)
		if err != nil {
			if perr, ok := err.(*ParseError); ok {
				perr.Reason = "no tagged sections and the reply is not a JSON object"
			}
			return nil, err
		}
		return obj, nil
	}

	byName := make(map[string]string, len(sections))
	for _, s := range sections {
		name := camelTag(s.Tag)
		if _, dup := byName[name]; dup && name == "jsonData" {
			return nil, &ParseError{Reason: "more than one #[json-data] section"}
		}
		byName[name] = s.Body
	}

	data, ok := byName["jsonData"]
	if !ok {
		return nil, &ParseError{Reason: "missing #[json-data] section"}
	}
	obj, err := Recover(data)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			perr.Reason = "#[json-data] is not a valid JSON object"
		}
		return nil, err
	}

	hydrate(obj, byName)
	return obj, nil
}

// hydrate folds the free-form sections into the decoded action object.
func hydrate(obj map[string]any, sections map[string]string) {
	if desc, ok := sections["planDescription"]; ok {
		plan, _ := obj["plan"].(map[string]any)
		if plan == nil {
			plan = map[string]any{}
			obj["plan"] = plan
		}
		plan["description"] = strings.TrimSpace(desc)
	}
	if msg, ok := sections["fileMessage"]; ok {
		obj["message"] = strings.TrimSpace(msg)
	}
	if content, ok := sections["contentFile"]; ok {
		content = trimContent(content)
		for _, field := range []string{"first_file", "next_file"} {
			if file, ok := obj[field].(map[string]any); ok {
				file["content"] = content
				break
			}
		}
	}
}

// trimContent drops the single newline that follows the opening tag and
// the one that precedes the closing tag, preserving indentation.
func trimContent(s string) string {
	s = strings.TrimPrefix(s, "\r\n")
	s = strings.TrimPrefix(s, "\n")
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}
