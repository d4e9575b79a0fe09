// Package tools holds the agent's built-in analysis tools and the helpers
// they share.
package tools

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/trialchat/internal/agent"
)

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[reflect.Type]json.RawMessage{}
)

// SchemaFor reflects the input schema of a tool's parameter struct. The
// jsonschema and json tags on T drive descriptions and required fields.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	key := reflect.TypeOf(zero)
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if cached, ok := schemaCache[key]; ok {
		return cached
	}

	schema := reflector.Reflect(&zero)
	schema.Version = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		payload = json.RawMessage(`{"type":"object"}`)
	}
	schemaCache[key] = payload
	return payload
}

// Result encodes v as the tool's content and keeps v as structured data so
// truncation can window its arrays.
func Result(v any) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Error("encode result: " + err.Error())
	}
	return &agent.ToolResult{Content: string(payload), Data: v}
}

// Error returns an error result the model can read.
func Error(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
