package testrunner

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// testEvent is one line of `go test -json` output.
type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

type testKey struct {
	pkg  string
	test string
}

// ParseGoTestJSON builds a Report from a `go test -json` stream. Lines that
// are not JSON (build errors printed by the go tool) are ignored. The bool
// result reports whether any test or package result was seen. A read error
// ends the scan; the partial report is returned with it.
func ParseGoTestJSON(r io.Reader) (*Report, bool, error) {
	var (
		order    []string
		suites   = map[string]*Suite{}
		output   = map[testKey][]string{}
		pkgFails = map[string]bool{}
		pkgTests = map[string]int{}
		seen     bool
	)

	suiteFor := func(pkg string) *Suite {
		s, ok := suites[pkg]
		if !ok {
			s = &Suite{Name: pkg}
			suites[pkg] = s
			order = append(order, pkg)
		}
		return s
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev testEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Package == "" {
			continue
		}
		key := testKey{pkg: ev.Package, test: ev.Test}

		switch ev.Action {
		case "output":
			output[key] = append(output[key], ev.Output)
		case "pass", "fail", "skip":
			seen = true
			if ev.Test == "" {
				suiteFor(ev.Package)
				if ev.Action == "fail" {
					pkgFails[ev.Package] = true
				}
				continue
			}
			a := Assertion{FullName: ev.Test, Status: statusOf(ev.Action)}
			if a.Status == StatusFailed {
				if msg := strings.TrimSpace(strings.Join(output[key], "")); msg != "" {
					a.FailureMessages = []string{msg}
				}
			}
			s := suiteFor(ev.Package)
			s.Assertions = append(s.Assertions, a)
			pkgTests[ev.Package]++
		}
	}
	scanErr := sc.Err()

	report := &Report{}
	for _, pkg := range order {
		s := suites[pkg]
		// A package that failed without any test result failed to build
		// or panicked in init; surface it as a single failed assertion.
		if pkgFails[pkg] && pkgTests[pkg] == 0 {
			a := Assertion{FullName: pkg, Status: StatusFailed}
			if msg := strings.TrimSpace(strings.Join(output[testKey{pkg: pkg}], "")); msg != "" {
				a.FailureMessages = []string{msg}
			}
			s.Assertions = append(s.Assertions, a)
		}
		for _, a := range s.Assertions {
			report.NumTotal++
			switch a.Status {
			case StatusPassed:
				report.NumPassed++
			case StatusFailed:
				report.NumFailed++
			}
		}
		report.Suites = append(report.Suites, *s)
	}
	return report, seen, scanErr
}

func statusOf(action string) string {
	switch action {
	case "pass":
		return StatusPassed
	case "fail":
		return StatusFailed
	default:
		return StatusSkipped
	}
}
