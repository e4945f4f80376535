package ai

import (
	"strings"

	"google.golang.org/genai"
)

type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
)

// Schema is the provider-neutral response schema used for structured output.
type Schema struct {
	Name        string
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Nullable    bool
}

// JSONSchema renders s as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]interface{} {
	if s == nil {
		return nil
	}
	out := map[string]interface{}{}
	if s.Nullable {
		out["type"] = []string{string(s.Type), "null"}
	} else {
		out["type"] = string(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	return out
}

func (s *Schema) toGenai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(string(s.Type))),
		Description: s.Description,
		Required:    s.Required,
	}
	if s.Nullable {
		nullable := true
		out.Nullable = &nullable
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.toGenai()
		}
	}
	if s.Items != nil {
		out.Items = s.Items.toGenai()
	}
	return out
}
