package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Param is one string argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Declaration describes a tool to the model. The same declarations compile
// into the JSON Schemas used to validate invocation arguments.
type Declaration struct {
	Name        string
	Description string
	Params      []Param
}

// Required lists the names of required params.
func (d Declaration) Required() []string {
	var out []string
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Declarations returns the tools offered to the agent.
func Declarations() []Declaration {
	return []Declaration{
		{
			Name:        NameCreateOrder,
			Description: "Submit a completed restaurant order after the customer confirms.",
			Params: []Param{
				{Name: "order_details", Description: "Full list of ordered items", Required: true},
				{Name: "customer_name", Description: "Customer's full name", Required: true},
				{Name: "address", Description: "Delivery address if provided, otherwise '" + AddressUnspecified + "'"},
			},
		},
		{
			Name:        NameSubmitDemand,
			Description: "Submit a special request or modification that is NOT a direct food order.",
			Params: []Param{
				{Name: "content", Description: "Details of the request in the agent's language", Required: true},
				{Name: "customer_name", Description: "Customer's full name"},
			},
		},
	}
}

// JSONSchema renders d as a draft 2020-12 object schema. Required params
// must contain at least one non-whitespace character; optional params may
// be null.
func (d Declaration) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		prop := map[string]any{"type": []string{"string", "null"}, "description": p.Description}
		if p.Required {
			prop["type"] = "string"
			prop["minLength"] = 1
			prop["pattern"] = `\S`
		}
		props[p.Name] = prop
	}
	schema := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if req := d.Required(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

func compileSchemas(decls []Declaration) (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	out := make(map[string]*jsonschema.Schema, len(decls))
	for _, d := range decls {
		raw, err := json.Marshal(d.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("marshal schema %s: %w", d.Name, err)
		}
		url := "mem://tools/" + d.Name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", d.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", d.Name, err)
		}
		out[d.Name] = schema
	}
	return out, nil
}

// validateArgs checks args against schema after a JSON round trip, so the
// validator sees the same shapes a decoded wire payload would have.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
