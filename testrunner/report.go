// Package testrunner runs a project's tests in a child process and reports
// the outcome per suite and assertion.
package testrunner

import (
	"fmt"
	"strings"
)

// Assertion statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Assertion is the outcome of one test.
type Assertion struct {
	FullName        string   `json:"full_name"`
	Status          string   `json:"status"`
	FailureMessages []string `json:"failure_messages,omitempty"`
}

// Suite groups assertions by package.
type Suite struct {
	Name       string      `json:"name"`
	Assertions []Assertion `json:"assertions"`
}

// Report is the result of one test run. Assertion failures are reported
// here; failures to execute the run at all are returned as errors.
type Report struct {
	NumPassed int     `json:"num_passed"`
	NumFailed int     `json:"num_failed"`
	NumTotal  int     `json:"num_total"`
	Suites    []Suite `json:"suites"`
}

// Failures returns every failed assertion in suite order.
func (r *Report) Failures() []Assertion {
	var out []Assertion
	for _, s := range r.Suites {
		for _, a := range s.Assertions {
			if a.Status == StatusFailed {
				out = append(out, a)
			}
		}
	}
	return out
}

// Summary is a one-line count.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d passed, %d failed, %d total", r.NumPassed, r.NumFailed, r.NumTotal)
}

// ExecutionError means the test command could not run or produced no test
// results, as opposed to tests that ran and failed.
type ExecutionError struct {
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return "test run timed out"
	}
	out := strings.TrimSpace(e.Output)
	if len(out) > 2000 {
		out = out[len(out)-2000:]
	}
	if out == "" {
		return fmt.Sprintf("test command exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("test command exited with code %d: %s", e.ExitCode, out)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
