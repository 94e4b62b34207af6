package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds the JSON schema of its parameters
//   - Validates model supplied arguments against that schema before execution
//   - Invokes the wrapped function with a *core.ToolContext giving access to
//     the invocation context, logging, the call id and the memory gateway
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     SCHEMA_ERROR      -> the declared schema does not compile
//     (custom codes preserved if the function returns *ToolError directly)
//
// The schema is compiled once, on first call. A FunctionTool is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)

	compileOnce sync.Once
	schema      *jsonschema.Schema
	schemaErr   error
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. Fields without omitempty are required; descriptions come from
// `jsonschema:"description=..."` tags.
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" jsonschema:"description=First addend"`
//	  B float64 `json:"b" jsonschema:"description=Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", SumArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	schema, err := SchemaFromStruct(structType)
	t := NewFunctionTool(name, description, schema, fn)

	if err != nil {
		t.compileOnce.Do(func() { t.schemaErr = err })
	}

	return t
}

// NewTypedTool wraps a function taking a typed argument struct. The schema
// is reflected from T and arguments are decoded into a T before fn runs.
func NewTypedTool[T any](
	name, description string,
	fn func(toolCtx *core.ToolContext, in T) (any, error),
) *FunctionTool {
	var zero T

	return NewFunctionToolFromStruct(name, description, zero, func(tc *core.ToolContext, args map[string]any) (any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}

		var in T
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeInvalidArguments}
		}

		return fn(tc, in)
	})
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

func (t *FunctionTool) compiled() (*jsonschema.Schema, error) {
	t.compileOnce.Do(func() {
		if len(t.parameters) == 0 {
			return
		}

		t.schema, t.schemaErr = compileSchema(t.name, t.parameters)
	})

	return t.schema, t.schemaErr
}

// compileSchema normalizes the schema through JSON so Go-typed values
// ([]string, nested maps) reach the compiler in decoded form.
func compileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	doc, err := decodeJSON(parameters)
	if err != nil {
		return nil, err
	}

	url := name + ".schema.json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}

	return c.Compile(url)
}

func decodeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// Call validates args against the declared schema then invokes the
// underlying function.
//
// Logging Fields:
//
//	tool: tool name
//	call_id: tool call identifier (correlates model request & tool execution)
//	duration_ms: execution time in milliseconds
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "call_id", toolCtx.CallID())

	schema, err := t.compiled()
	if err != nil {
		logger.Error("tool.call.schema_invalid", "tool", t.name, "error", err.Error())

		return nil, &ToolError{Tool: t.name, Message: fmt.Sprintf("invalid parameter schema: %v", err), Code: CodeSchema}
	}

	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

			return nil, &ToolError{
				Tool:    t.name,
				Message: fmt.Sprintf("parameter validation failed: %v", err),
				Code:    CodeValidation,
				Details: err,
			}
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	inst, err := decodeJSON(args)
	if err != nil {
		return err
	}

	return schema.Validate(inst)
}
