// Package modules runs task modules: standalone executables that read one
// JSON object of parameters on stdin and write one JSON result on stdout.
package modules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProtocolVersion is the module protocol spoken by this runner.
const ProtocolVersion = "1.0"

// CommandKey is the reserved input key carrying a control command such as
// "version" instead of task parameters.
const CommandKey = "_conductor_cmd"

// Result is the JSON object a module writes to stdout.
type Result struct {
	Success bool           `json:"success"`
	Changed bool           `json:"changed"`
	Message string         `json:"message"`
	Facts   map[string]any `json:"facts"`
}

// Success builds a successful result.
func Success(message string, changed bool, facts map[string]any) *Result {
	if facts == nil {
		facts = map[string]any{}
	}
	return &Result{Success: true, Changed: changed, Message: message, Facts: facts}
}

// Failure builds a failed result.
func Failure(message string, facts map[string]any) *Result {
	if facts == nil {
		facts = map[string]any{}
	}
	return &Result{Message: message, Facts: facts}
}

const resultSchemaURL = "schema://conductor/module-result.json"

const resultSchemaJSON = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "changed": {"type": "boolean"},
    "message": {"type": ["string", "null"]},
    "facts":   {"type": ["object", "null"]}
  }
}`

var resultSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(resultSchemaURL, strings.NewReader(resultSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(resultSchemaURL)
})

// DecodeResult parses and validates module output. Only the last non-blank
// line is considered so modules may print progress before the result.
func DecodeResult(out []byte) (*Result, error) {
	line := lastLine(string(out))
	if line == "" {
		return nil, fmt.Errorf("module produced no output")
	}
	var raw any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	schema, err := resultSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling result schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("output does not match result schema: %w", err)
	}
	var res Result
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return nil, err
	}
	if res.Facts == nil {
		res.Facts = map[string]any{}
	}
	return &res, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
