package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBase = "https://gridsync.invalid/schema/"

const envelopeSchema = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "error": {"type": ["string", "null"]},
    "error_info": {"type": ["string", "null"]},
    "errorCode": {"type": ["integer", "null"]},
    "additional_data": {
      "type": ["object", "array", "null"],
      "properties": {
        "pagination": {
          "type": ["object", "null"],
          "properties": {
            "more_items_in_collection": {"type": "boolean"},
            "next_start": {"type": ["integer", "null"]}
          }
        }
      }
    }
  }
}`

const listEnvelopeSchema = `{
  "allOf": [{"$ref": "envelope.json"}],
  "properties": {
    "data": {"type": ["array", "null"], "items": {"type": "object"}}
  }
}`

var (
	schemasOnce sync.Once
	schemaErr   error
	envelopeSch *jsonschema.Schema
	listEnvSch  *jsonschema.Schema
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	for name, raw := range map[string]string{
		schemaBase + "envelope.json":      envelopeSchema,
		schemaBase + "list-envelope.json": listEnvelopeSchema,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			schemaErr = err
			return
		}
		if err := compiler.AddResource(name, doc); err != nil {
			schemaErr = err
			return
		}
	}
	if envelopeSch, schemaErr = compiler.Compile(schemaBase + "envelope.json"); schemaErr != nil {
		return
	}
	listEnvSch, schemaErr = compiler.Compile(schemaBase + "list-envelope.json")
}

type envelope struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data"`
	Error          string          `json:"error"`
	ErrorCode      json.Number     `json:"errorCode"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

type pagination struct {
	MoreItems bool `json:"more_items_in_collection"`
	NextStart *int `json:"next_start"`
}

func (e envelope) pagination() pagination {
	var extra struct {
		Pagination pagination `json:"pagination"`
	}
	if len(e.AdditionalData) > 0 {
		_ = json.Unmarshal(e.AdditionalData, &extra)
	}
	return extra.Pagination
}

// decodeEnvelope validates payload against the response envelope schema
// and reports success:false as a RemoteAPIError.
func decodeEnvelope(statusCode int, payload []byte, list bool) (envelope, error) {
	schemasOnce.Do(compileSchemas)
	if schemaErr != nil {
		return envelope{}, fmt.Errorf("compile envelope schema: %w", schemaErr)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return envelope{}, &RemoteAPIError{StatusCode: statusCode, Code: "malformed_body", Message: err.Error()}
	}
	schema := envelopeSch
	if list {
		schema = listEnvSch
	}
	if err := schema.Validate(instance); err != nil {
		return envelope{}, &RemoteAPIError{StatusCode: statusCode, Code: "invalid_envelope", Message: err.Error()}
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, &RemoteAPIError{StatusCode: statusCode, Code: "malformed_body", Message: err.Error()}
	}
	if !env.Success {
		message := env.Error
		if message == "" {
			message = "request was not successful"
		}
		return env, &RemoteAPIError{StatusCode: statusCode, Code: env.ErrorCode.String(), Message: message}
	}
	return env, nil
}
