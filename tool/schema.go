package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFromStruct reflects a JSON schema object from a struct value. The
// result is inlined (no $ref/$defs) so it can be sent to providers as-is.
func SchemaFromStruct(v any) (map[string]any, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, err
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}

	delete(schema, "$schema")
	delete(schema, "$id")

	return schema, nil
}
