package paywall

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// requestSchema is the JSON schema of the analysis request body
const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "market": {"type": "string", "minLength": 1, "maxLength": 512},
    "tier": {"type": "string", "enum": ["quick", "standard", "deep"]}
  },
  "required": ["market", "tier"],
  "additionalProperties": false
}`

var requestSchemaLoader = gojsonschema.NewStringLoader(requestSchema)

// ValidateRequestBody checks body against the analysis request schema
func ValidateRequestBody(body []byte) error {
	result, err := gojsonschema.Validate(requestSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid request body: %s", strings.Join(errs, "; "))
}
