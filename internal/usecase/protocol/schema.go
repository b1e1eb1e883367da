package protocol

import (
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"strandbus/internal/domain"
)

// Payload schemas per message type. The bus itself is schemaless; these
// guard only the fields the default handlers read, so a malformed
// payload is rejected at the protocol boundary instead of inside a
// handler.
var messageSchemas = map[string]string{
	domain.MessageActionRequired: `{
		"type": "object",
		"properties": {
			"routing_reason":   {"type": "string"},
			"source_strand_id": {"type": "string"},
			"similarity_score": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
	domain.MessageEscalation: `{
		"type": "object",
		"properties": {
			"reason":   {"type": "string"},
			"severity": {"type": "string"}
		},
		"required": ["reason"]
	}`,
	domain.MessagePerfAlert: `{
		"type": "object",
		"properties": {
			"metric": {"type": "string"},
			"value":  {"type": "number"}
		}
	}`,
	domain.MessageSystemControl: `{
		"type": "object",
		"properties": {
			"command": {"type": "string"}
		},
		"required": ["command"]
	}`,
	domain.MessageResponse: `{
		"type": "object",
		"properties": {
			"original_message_id": {"type": "string"},
			"status":              {"type": "string"}
		},
		"required": ["original_message_id"]
	}`,
}

// SchemaSet holds the compiled payload schemas.
type SchemaSet struct {
	compiled map[string]*jsonschema.Schema
}

// NewSchemaSet compiles the built-in message schemas.
func NewSchemaSet() (*SchemaSet, error) {
	compiler := jsonschema.NewCompiler()
	set := &SchemaSet{compiled: make(map[string]*jsonschema.Schema, len(messageSchemas))}
	for messageType, raw := range messageSchemas {
		schema, err := compiler.Compile([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", messageType, err)
		}
		set.compiled[messageType] = schema
	}
	return set, nil
}

// Validate checks a payload against the schema for its message type.
// Types without a schema pass (information and learning payloads are
// free-form).
func (s *SchemaSet) Validate(messageType string, content map[string]any) error {
	schema, ok := s.compiled[messageType]
	if !ok {
		return nil
	}
	result := schema.Validate(content)
	if !result.IsValid() {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedContent, messageType, result.Error())
	}
	return nil
}
