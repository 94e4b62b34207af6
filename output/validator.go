package output

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/tidwall/gjson"
)

// DefaultMaxDepth bounds how deep nested schema fields are checked.
const DefaultMaxDepth = 8

// Violation is one field-level validation failure.
type Violation = core.FieldError

// Result is the outcome of validating one candidate.
type Result struct {
	// Content is the candidate as it should be returned to the caller; JSON
	// candidates have code fences and surrounding whitespace removed.
	Content    string
	Violations []Violation
}

// Passed reports whether the candidate is acceptable.
func (r Result) Passed() bool { return len(r.Violations) == 0 }

// Validator checks candidate output against a task's expected output
// format. It has no mutable state and is safe for concurrent use.
type Validator struct {
	maxDepth int
}

// NewValidator creates a validator checking nested fields up to maxDepth
// levels. Values below that depth are accepted unchecked. A maxDepth of
// zero or less selects DefaultMaxDepth.
func NewValidator(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	return &Validator{maxDepth: maxDepth}
}

// Validate checks candidate against task. Only JSON output is structurally
// validated; text, markdown and HTML always pass. The result is
// deterministic: the same candidate and task always yield the same
// violations in the same order.
func (v *Validator) Validate(candidate string, task *core.Task) Result {
	if task.Format != core.FormatJSON {
		return Result{Content: candidate}
	}

	content := StripCodeFence(candidate)
	res := Result{Content: content}

	if !gjson.Valid(content) {
		res.Violations = []Violation{{Field: "$", Message: "response is not valid JSON: " + syntaxError(content)}}
		return res
	}

	root := gjson.Parse(content)
	if !root.IsObject() {
		res.Violations = []Violation{{Field: "$", Message: "expected a JSON object, got " + typeName(root)}}
		return res
	}

	v.validateObject(root, task.Schema, task.Strict, "", 0, &res.Violations)

	return res
}

// ValidateJSON is a convenience for validating raw JSON against fields.
func (v *Validator) ValidateJSON(candidate string, fields []core.Field, strict bool) Result {
	task := core.Task{Format: core.FormatJSON, Schema: fields, Strict: strict}
	return v.Validate(candidate, &task)
}

func (v *Validator) validateObject(obj gjson.Result, fields []core.Field, strict bool, prefix string, depth int, out *[]Violation) {
	present := map[string]gjson.Result{}

	var order []string

	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if _, seen := present[name]; !seen {
			order = append(order, name)
		}

		present[name] = value

		return true
	})

	for _, f := range fields {
		path := joinPath(prefix, f.Name)

		val, ok := present[f.Name]
		if !ok {
			if f.Required {
				*out = append(*out, Violation{Field: path, Message: "required field is missing"})
			}

			continue
		}

		if val.Type == gjson.Null && !f.Required {
			continue
		}

		v.validateValue(val, f, strict, path, depth, out)
	}

	if !strict {
		return
	}

	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		declared[f.Name] = struct{}{}
	}

	for _, name := range order {
		if _, ok := declared[name]; !ok {
			*out = append(*out, Violation{Field: joinPath(prefix, name), Message: "unexpected field not declared in the schema"})
		}
	}
}

func (v *Validator) validateValue(val gjson.Result, f core.Field, strict bool, path string, depth int, out *[]Violation) {
	if !matchesType(val, f.Type) {
		*out = append(*out, Violation{Field: path, Message: fmt.Sprintf("expected %s, got %s", f.Type, typeName(val))})
		return
	}

	if depth+1 >= v.maxDepth {
		return
	}

	switch f.Type {
	case core.TypeArray:
		if f.Items == nil {
			return
		}

		i := 0
		val.ForEach(func(_, elem gjson.Result) bool {
			v.validateValue(elem, *f.Items, strict, fmt.Sprintf("%s[%d]", path, i), depth+1, out)
			i++

			return true
		})
	case core.TypeObject:
		if len(f.Fields) > 0 {
			v.validateObject(val, f.Fields, strict, path, depth+1, out)
		}
	}
}

func matchesType(val gjson.Result, typ core.FieldType) bool {
	switch typ {
	case core.TypeString:
		return val.Type == gjson.String
	case core.TypeNumber:
		return val.Type == gjson.Number
	case core.TypeInteger:
		return val.Type == gjson.Number && !math.IsInf(val.Num, 0) && val.Num == math.Trunc(val.Num)
	case core.TypeBoolean:
		return val.Type == gjson.True || val.Type == gjson.False
	case core.TypeArray:
		return val.IsArray()
	case core.TypeObject:
		return val.IsObject()
	default:
		return false
	}
}

func typeName(val gjson.Result) string {
	switch val.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	default:
		if val.IsArray() {
			return "array"
		}

		return "object"
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return prefix + "." + name
}

// syntaxError produces a diagnostic for invalid JSON. Only called on the
// failure path.
func syntaxError(content string) string {
	if strings.TrimSpace(content) == "" {
		return "empty response"
	}

	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return err.Error()
	}

	return "malformed document"
}
