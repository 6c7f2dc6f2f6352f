package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// Envelope is the flat wire shape of a json-data payload. Which fields are
// required depends on Action; those rules live in envelopeRules.
type Envelope struct {
	Action       string      `json:"action" validate:"required" jsonschema:"enum=text_response,enum=tool_call,enum=start_multi_file,enum=continue_multi_file,enum=run_test"`
	Message      string      `json:"message,omitempty" jsonschema:"description=Text shown to the user"`
	FunctionName string      `json:"function_name,omitempty" validate:"omitempty,oneof=list_files read_file" jsonschema:"enum=list_files,enum=read_file"`
	Args         *ToolArgs   `json:"args,omitempty"`
	Plan         *Plan       `json:"plan,omitempty"`
	FirstFile    *FileChange `json:"first_file,omitempty"`
	NextFile     *FileChange `json:"next_file,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
	File         string      `json:"file,omitempty" jsonschema:"description=Test file to run; empty or all runs every test"`
}

// ToolArgs are the arguments of a tool_call.
type ToolArgs struct {
	Paths []string `json:"paths,omitempty"`
	Path  string   `json:"path,omitempty"`
}

// All returns the batched paths followed by the single path, if any.
func (a *ToolArgs) All() []string {
	out := make([]string, 0, len(a.Paths)+1)
	out = append(out, a.Paths...)
	if a.Path != "" {
		out = append(out, a.Path)
	}
	return out
}

// Plan describes a multi-file task.
type Plan struct {
	Description   string   `json:"description,omitempty"`
	FilesToModify []string `json:"files_to_modify" validate:"required,min=1,dive,required"`
}

// FileChange is one file mutation inside a multi-file task.
type FileChange struct {
	Path       string `json:"path,omitempty"`
	Action     string `json:"action" validate:"omitempty,oneof=create update delete noop" jsonschema:"enum=create,enum=update,enum=delete,enum=noop"`
	Content    string `json:"content,omitempty"`
	IsLastFile bool   `json:"is_last_file,omitempty"`
}

// FileNoop marks a continue step that changes nothing.
const FileNoop = "noop"

// Violation is one schema error, addressed by its JSON field path.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func envelopeValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterStructValidation(envelopeRules, Envelope{})
		v.RegisterStructValidation(fileChangeRules, FileChange{})
		validate = v
	})
	return validate
}

func envelopeRules(sl validator.StructLevel) {
	e := sl.Current().Interface().(Envelope)
	switch e.Action {
	case ActionToolCall:
		if e.FunctionName == "" {
			sl.ReportError(e.FunctionName, "function_name", "FunctionName", "required", "")
		}
		if e.FunctionName == FuncReadFile && (e.Args == nil || len(e.Args.All()) == 0) {
			sl.ReportError(e.Args, "args", "Args", "paths", "")
		}
	case ActionStartMultiFile:
		if e.Plan == nil {
			sl.ReportError(e.Plan, "plan", "Plan", "required", "")
		}
		if e.FirstFile == nil {
			sl.ReportError(e.FirstFile, "first_file", "FirstFile", "required", "")
		} else if e.FirstFile.Action == FileNoop {
			sl.ReportError(e.FirstFile.Action, "first_file.action", "Action", "nonoop", "")
		}
	case ActionContinueMultiFile:
		if e.NextFile == nil {
			sl.ReportError(e.NextFile, "next_file", "NextFile", "required", "")
		}
	}
}

func fileChangeRules(sl validator.StructLevel) {
	f := sl.Current().Interface().(FileChange)
	if f.Action != FileNoop && strings.TrimSpace(f.Path) == "" {
		sl.ReportError(f.Path, "path", "Path", "required", "")
	}
}

// Validate checks an envelope against the action schema. It never fails
// hard: the caller reports violations back to the model and still
// dispatches when it can.
func Validate(e *Envelope) []Violation {
	err := envelopeValidator().Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Violation{{Rule: "invalid", Message: err.Error()}}
	}
	out := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Violation{
			Field:   strings.TrimPrefix(fe.Namespace(), "Envelope."),
			Rule:    fe.Tag(),
			Message: ruleMessage(fe),
		})
	}
	return out
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "paths":
		return "read_file needs args.paths"
	case "nonoop":
		return "first_file cannot be a noop"
	default:
		return "failed " + fe.Tag()
	}
}

// FormatViolations renders violations as the corrective message sent back
// to the model.
func FormatViolations(vs []Violation) string {
	var b strings.Builder
	b.WriteString("[SYSTEM-ERROR] Your last response did not match the action schema:\n")
	for _, v := range vs {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	b.WriteString("Fix these fields in your next response.")
	return b.String()
}

// SchemaOf reflects a JSON Schema for v as a plain map, suitable for
// unifiedllm.ResponseFormat.
func SchemaOf(v any) map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

var (
	actionSchemaOnce sync.Once
	actionSchema     map[string]any
)

// ActionSchema is the JSON Schema of the json-data payload.
func ActionSchema() map[string]any {
	actionSchemaOnce.Do(func() { actionSchema = SchemaOf(&Envelope{}) })
	return actionSchema
}
