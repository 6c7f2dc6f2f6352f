package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted logging formats.
func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be positive"})
		}
	}
	nonNegative := func(field string, v int) {
		if v < 0 {
			errs = append(errs, ValidationError{Field: field, Value: v, Message: "must not be negative"})
		}
	}

	if strings.TrimSpace(c.Model.Provider) == "" {
		errs = append(errs, ValidationError{Field: "model.provider", Value: c.Model.Provider, Message: "is required"})
	}
	nonNegative("model.max_tokens", c.Model.MaxTokens)
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "model.temperature", Value: c.Model.Temperature, Message: "must be between 0 and 2"})
	}

	positive("loop.max_tool_calls", c.Loop.MaxToolCalls)
	nonNegative("loop.max_continues", c.Loop.MaxContinues)
	positive("loop.continuation_tail_chars", c.Loop.ContinuationTailChars)
	positive("loop.max_scout_files", c.Loop.MaxScoutFiles)
	if c.Loop.LoopDetection {
		positive("loop.loop_detection_window", c.Loop.LoopDetectionWindow)
	}

	if c.Knowledge.Enabled {
		positive("knowledge.threshold", c.Knowledge.Threshold)
		positive("knowledge.max_concurrent", c.Knowledge.MaxConcurrent)
	}

	if len(c.Tests.Command) == 0 {
		errs = append(errs, ValidationError{Field: "tests.command", Value: c.Tests.Command, Message: "is required"})
	}
	if c.Tests.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "tests.timeout", Value: c.Tests.Timeout, Message: "must not be negative"})
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, ValidationError{Field: "store.path", Value: c.Store.Path, Message: "is required"})
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: "must be one of " + strings.Join(ValidLogFormats(), ", ")})
	}
	return errs
}
