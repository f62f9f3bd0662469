package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// verifySchema shapes the verify request. Length bounds only; a malformed
// hash still reaches the verifier so the caller gets its answer-style
// message rather than a schema pointer.
const verifySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_hash"],
  "properties": {
    "event_hash": {"type": "string", "minLength": 1, "maxLength": 128}
  },
  "additionalProperties": false
}`

// runSchema shapes the manual run request. date-time is annotation only;
// the handler parses RFC 3339 itself for a friendlier error.
const runSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "start": {"type": "string"},
    "end": {"type": "string"},
    "wait_for_confirmation": {"type": "boolean"}
  },
  "additionalProperties": false
}`

type schemas struct {
	verify *jsonschema.Schema
	run    *jsonschema.Schema
}

// compileSchemas compiles the request schemas once at server construction.
func compileSchemas() (*schemas, error) {
	compiled := &schemas{}
	for _, def := range []struct {
		name   string
		source string
		dst    **jsonschema.Schema
	}{
		{"verify", verifySchema, &compiled.verify},
		{"run", runSchema, &compiled.run},
	} {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://ared.schemas.local/anchor/%s.schema.json", def.name)
		if err := c.AddResource(schemaURL, strings.NewReader(def.source)); err != nil {
			return nil, fmt.Errorf("api: load %s schema: %w", def.name, err)
		}
		s, err := c.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("api: compile %s schema: %w", def.name, err)
		}
		*def.dst = s
	}
	return compiled, nil
}
