package storage

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema pins the on-disk shape spec.md §6 describes. Grounded in
// the teacher's schema.Validator (pkg/device/schema/validate.go): compile
// once, validate every load against the compiled schema. Save does not
// validate what it writes.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["config"],
  "properties": {
    "config": {
      "type": "object",
      "required": ["version"],
      "properties": { "version": { "type": "string" } }
    },
    "networks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["panId", "extendedPanId"],
        "properties": {
          "panId": { "type": "string" },
          "extendedPanId": {
            "type": "array", "minItems": 8, "maxItems": 8,
            "items": { "type": "string" }
          },
          "radioTxPower": { "type": "integer" },
          "radioChannel": { "type": "integer" },
          "joinMethod": { "type": "integer" },
          "nwkManagerId": { "type": "integer" },
          "nwkUpdateId": { "type": "integer" },
          "channels": { "type": "integer" }
        }
      }
    },
    "childs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "nwkAddr", "ieeeAddr", "type", "flags"],
        "properties": {
          "id": { "type": "integer" },
          "nwkAddr": { "type": "string" },
          "ieeeAddr": {
            "type": "array", "minItems": 8, "maxItems": 8,
            "items": { "type": "string" }
          },
          "type": { "type": "integer" },
          "flags": { "type": "integer" }
        }
      }
    }
  }
}`

func compileDocumentSchema() (*jsonschema.Schema, error) {
	var schemaMap any
	if err := json.Unmarshal([]byte(documentSchema), &schemaMap); err != nil {
		return nil, fmt.Errorf("storage: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("ezsphost-document.json", schemaMap); err != nil {
		return nil, fmt.Errorf("storage: add schema resource: %w", err)
	}
	compiled, err := c.Compile("ezsphost-document.json")
	if err != nil {
		return nil, fmt.Errorf("storage: compile schema: %w", err)
	}
	return compiled, nil
}

// validate checks raw (already parsed into a generic map) against the
// document schema.
func validate(schema *jsonschema.Schema, raw map[string]any) error {
	return schema.Validate(raw)
}
