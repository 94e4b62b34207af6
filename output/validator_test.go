package output

import (
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonTask(strict bool, fields ...core.Field) *core.Task {
	t := core.NewTask("extract", func(t *core.Task) {
		t.Format = core.FormatJSON
		t.Strict = strict
		t.Schema = fields
	})

	return &t
}

func fieldNames(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Field
	}

	return out
}

func TestValidate_NonJSONFormatsPass(t *testing.T) {
	v := NewValidator(0)

	for _, f := range []core.OutputFormat{core.FormatText, core.FormatMarkdown, core.FormatHTML} {
		task := core.NewTask("x", func(t *core.Task) { t.Format = f })
		res := v.Validate("{ not json", &task)
		assert.True(t, res.Passed(), f)
		assert.Equal(t, "{ not json", res.Content)
	}
}

func TestValidate_ExtraFieldStrictVersusLenient(t *testing.T) {
	v := NewValidator(0)
	candidate := `{"name":"widget","extra":1}`
	field := core.RequiredField("name", core.TypeString, "")

	assert.True(t, v.Validate(candidate, jsonTask(false, field)).Passed())

	res := v.Validate(candidate, jsonTask(true, field))
	require.False(t, res.Passed())
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "extra", res.Violations[0].Field)
}

func TestValidate_MissingAndMismatchedFields(t *testing.T) {
	v := NewValidator(0)
	task := jsonTask(false,
		core.RequiredField("product", core.TypeString, ""),
		core.RequiredField("price", core.TypeNumber, ""),
		core.RequiredField("count", core.TypeInteger, ""),
		core.OptionalField("in_stock", core.TypeBoolean, ""),
		core.OptionalField("note", core.TypeString, ""),
	)

	res := v.Validate(`{"price":"12.50","count":1.5,"in_stock":"yes","note":null}`, task)

	require.Len(t, res.Violations, 4)
	assert.Equal(t, []string{"product", "price", "count", "in_stock"}, fieldNames(res.Violations))
	assert.Equal(t, "required field is missing", res.Violations[0].Message)
	assert.Equal(t, "expected number, got string", res.Violations[1].Message)
	assert.Equal(t, "expected integer, got number", res.Violations[2].Message)
}

func TestValidate_RequiredNullIsMismatch(t *testing.T) {
	res := NewValidator(0).Validate(`{"name":null}`, jsonTask(false, core.RequiredField("name", core.TypeString, "")))

	require.Len(t, res.Violations, 1)
	assert.Equal(t, "expected string, got null", res.Violations[0].Message)
}

func TestValidate_ArraysAndNestedObjects(t *testing.T) {
	v := NewValidator(0)
	task := jsonTask(true,
		core.ArrayField("tags", core.Field{Type: core.TypeString}, true, ""),
		core.ObjectField("owner", true, "",
			core.RequiredField("id", core.TypeInteger, ""),
			core.ArrayField("roles", core.Field{Type: core.TypeObject, Fields: []core.Field{
				core.RequiredField("name", core.TypeString, ""),
			}}, false, ""),
		),
	)

	res := v.Validate(`{"tags":["a",2,"c",false],"owner":{"id":"7","roles":[{"name":"admin"},{"title":"x"}],"extra":true}}`, task)

	assert.Equal(t, []string{
		"tags[1]",
		"tags[3]",
		"owner.id",
		"owner.roles[1].name",
		"owner.roles[1].title",
		"owner.extra",
	}, fieldNames(res.Violations))
}

func TestValidate_DepthLimit(t *testing.T) {
	task := jsonTask(false, core.ObjectField("a", true, "",
		core.ObjectField("b", true, "",
			core.RequiredField("c", core.TypeString, ""),
		),
	))

	candidate := `{"a":{"b":{"c":42}}}`

	assert.False(t, NewValidator(0).Validate(candidate, task).Passed())
	assert.True(t, NewValidator(2).Validate(candidate, task).Passed())
	assert.False(t, NewValidator(2).Validate(`{"a":{"b":1}}`, task).Passed())
}

func TestValidate_TopLevelShape(t *testing.T) {
	v := NewValidator(0)
	task := jsonTask(false)

	res := v.Validate(`[1,2]`, task)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "$", res.Violations[0].Field)
	assert.Contains(t, res.Violations[0].Message, "array")

	res = v.Validate(`{"a":`, task)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0].Message, "not valid JSON")

	res = v.Validate("", task)
	assert.False(t, res.Passed())
}

func TestValidate_StripsCodeFence(t *testing.T) {
	task := jsonTask(true, core.RequiredField("price", core.TypeNumber, ""))

	res := NewValidator(0).Validate("```json\n{\"price\": 12.5}\n```", task)
	require.True(t, res.Passed())
	assert.Equal(t, `{"price": 12.5}`, res.Content)
}

func TestValidate_Idempotent(t *testing.T) {
	v := NewValidator(0)
	task := jsonTask(true,
		core.RequiredField("a", core.TypeString, ""),
		core.ArrayField("b", core.Field{Type: core.TypeNumber}, true, ""),
	)

	for _, candidate := range []string{
		`{"a":"x","b":[1,2]}`,
		`{"a":1,"b":["x"],"z":0,"y":1}`,
		`nope`,
	} {
		first := v.Validate(candidate, task)
		second := v.Validate(candidate, task)
		assert.Equal(t, first, second, candidate)

		again := v.Validate(first.Content, task)
		assert.Equal(t, first.Violations, again.Violations)
	}
}

func TestValidateJSON(t *testing.T) {
	res := NewValidator(0).ValidateJSON(`{"ok":true}`, []core.Field{core.RequiredField("ok", core.TypeBoolean, "")}, true)
	assert.True(t, res.Passed())
}
