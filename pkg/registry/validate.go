package registry

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// ValidateAgainstSchema validates value (already decoded to a Go any, or
// raw JSON bytes) against the JSON-Schema document schemaJSON. It returns
// a gwerrors validation error listing the first failing assertion when
// value does not conform.
func ValidateAgainstSchema(schemaJSON json.RawMessage, value any) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return gwerrors.NewValidationError("invalid json schema", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	msg := "value does not satisfy schema"
	if len(errs) > 0 {
		msg = errs[0].String()
	}
	return gwerrors.NewValidationError(fmt.Sprintf("schema validation failed: %s", msg), nil)
}
