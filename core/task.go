package core

import (
	"errors"
	"fmt"
)

// OutputFormat selects how the final answer of a task must be shaped.
type OutputFormat string

const (
	// FormatText requests plain text.
	FormatText OutputFormat = "text"
	// FormatJSON requests a JSON object validated against the task schema.
	FormatJSON OutputFormat = "json"
	// FormatMarkdown requests Markdown.
	FormatMarkdown OutputFormat = "markdown"
	// FormatHTML requests HTML.
	FormatHTML OutputFormat = "html"
)

// Valid reports whether f is one of the known formats.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatMarkdown, FormatHTML:
		return true
	default:
		return false
	}
}

// FieldType is the type tag of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one expected key of a JSON output object. Items is the
// element descriptor of an array field (its Name is ignored); Fields lists
// the nested keys of an object field. An object field without Fields accepts
// any object.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Items       *Field    `json:"items,omitempty" yaml:"items"`
	Fields      []Field   `json:"fields,omitempty" yaml:"fields"`
}

// RequiredField returns a required field of the given type.
func RequiredField(name string, typ FieldType, description string) Field {
	return Field{Name: name, Type: typ, Required: true, Description: description}
}

// OptionalField returns an optional field of the given type.
func OptionalField(name string, typ FieldType, description string) Field {
	return Field{Name: name, Type: typ, Description: description}
}

// ArrayField returns an array field whose elements must match elem.
func ArrayField(name string, elem Field, required bool, description string) Field {
	return Field{Name: name, Type: TypeArray, Required: required, Description: description, Items: &elem}
}

// ObjectField returns an object field with nested fields.
func ObjectField(name string, required bool, description string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Required: required, Description: description, Fields: fields}
}

// Default task limits.
const (
	DefaultMaxRetries    = 2
	DefaultMaxToolRounds = 10
)

// Task is a unit of work handed to an agent: what to do, the shape the
// answer must take and the bounds on retries and tool rounds.
//
// The retry counter is private; the conversation loop works on its own copy
// of the task so a Task value can be reused across runs.
type Task struct {
	ID             string
	Description    string
	ExpectedOutput string
	Schema         []Field
	Strict         bool
	Format         OutputFormat
	MaxRetries     int
	// MaxToolRounds bounds the number of tool-call rounds per attempt. Zero
	// forbids tool rounds entirely.
	MaxToolRounds int
	UserID        string
	// Vars are rendered into templated agent instructions.
	Vars map[string]any

	retryCount int
}

// NewTask creates a task with a fresh ID, text format and default limits.
func NewTask(description string, optFns ...func(t *Task)) Task {
	t := Task{
		ID:            NewID(),
		Description:   description,
		Format:        FormatText,
		MaxRetries:    DefaultMaxRetries,
		MaxToolRounds: DefaultMaxToolRounds,
	}

	for _, fn := range optFns {
		fn(&t)
	}

	return t
}

// RetryCount returns how many corrective retries the task has used.
func (t *Task) RetryCount() int { return t.retryCount }

// IncrementRetry consumes one retry. It returns ErrRetriesExhausted, leaving
// the counter unchanged, when no retries remain.
func (t *Task) IncrementRetry() error {
	if t.retryCount >= t.MaxRetries {
		return ErrRetriesExhausted
	}

	t.retryCount++

	return nil
}

// Validate checks the task for structural errors.
func (t *Task) Validate() error {
	if t.Description == "" {
		return errors.New("task description is required")
	}

	if !t.Format.Valid() {
		return fmt.Errorf("unknown output format %q", t.Format)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %d", t.MaxRetries)
	}

	if t.MaxToolRounds < 0 {
		return fmt.Errorf("max tool rounds must not be negative: %d", t.MaxToolRounds)
	}

	return validateFields(t.Schema, "")
}

func validateFields(fields []Field, prefix string) error {
	seen := make(map[string]struct{}, len(fields))

	for _, f := range fields {
		path := prefix + f.Name
		if f.Name == "" {
			return fmt.Errorf("schema field under %q has no name", prefix)
		}

		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate schema field %q", path)
		}

		seen[f.Name] = struct{}{}

		if err := validateFieldType(f, path); err != nil {
			return err
		}
	}

	return nil
}

func validateFieldType(f Field, path string) error {
	switch f.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		return nil
	case TypeArray:
		if f.Items == nil {
			return nil
		}

		elem := *f.Items

		return validateFieldType(elem, path+"[]")
	case TypeObject:
		return validateFields(f.Fields, path+".")
	default:
		return fmt.Errorf("schema field %q has unknown type %q", path, f.Type)
	}
}
