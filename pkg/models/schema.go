package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema for document validation.
type JSONSchema struct {
	Schema      string               `json:"$schema,omitempty"`
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type        string               `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MinItems    *int                 `json:"minItems,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

func intPtr(v int) *int {
	return &v
}

func stringProperty(description string) *Property {
	return &Property{Type: "string", Description: description}
}

func boolProperty(description string) *Property {
	return &Property{Type: "boolean", Description: description}
}

func stringList(description string) *Property {
	return &Property{Type: "array", Description: description, Items: &Property{Type: "string"}}
}

// RouteSchema returns the JSON schema of an authored route document.
func RouteSchema() *JSONSchema {
	transition := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"id":        stringProperty("Transition id, unique among the node outputs"),
			"label":     stringProperty("Display label"),
			"target":    {Type: "string", Description: "Target node id", MinLength: intPtr(1)},
			"condition": stringProperty("Boolean expression evaluated on the node output phase"),
			"chain":     stringProperty("Chain executed when the transition fires"),
			"result":    boolProperty("Last evaluated result"),
		},
		Required: []string{"id", "target"},
	}

	escalationRule := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"id":                 stringProperty("Rule id"),
			"label":              stringProperty("Display label"),
			"condition":          {Type: "string", MinLength: intPtr(1)},
			"chain":              {Type: "string", MinLength: intPtr(1)},
			"multiple_execution": boolProperty("Whether the rule may fire more than once"),
			"executed":           boolProperty("Whether the rule already fired"),
		},
		Required: []string{"id", "condition", "chain"},
	}

	keyValue := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"key":   {Type: "string", MinLength: intPtr(1)},
			"value": stringProperty("Literal value or expr: prefixed expression"),
		},
		Required: []string{"key"},
	}

	button := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"name":  {Type: "string", MinLength: intPtr(1)},
			"label": stringProperty("Display label"),
		},
		Required: []string{"name"},
	}

	node := &Property{
		Type: "object",
		Properties: map[string]*Property{
			"id":                            {Type: "string", MinLength: intPtr(1)},
			"title":                         stringProperty("Node title"),
			"description":                   stringProperty("Node description"),
			"state":                         {Type: "string", Enum: []any{"ready", "waiting", "suspended", "done", "canceled"}},
			"start":                         boolProperty("Start node"),
			"stop":                          boolProperty("Stop node"),
			"merge":                         {Type: "string", Enum: []any{"", "one", "all"}},
			"execute_only_first_transition": boolProperty("Exclusive node"),
			"input_chain":                   stringProperty("Chain executed on entry"),
			"output_chain":                  stringProperty("Chain executed on exit"),
			"variables":                     {Type: "object"},
			"has_task":                      boolProperty("Node creates a human task"),
			"has_multiple_tasks":            boolProperty("Node creates one task per assignee"),
			"task_assignees":                stringList("Static task assignees"),
			"task_assignees_expression":     stringProperty("Expression resolving more assignees"),
			"task_due_date_expression":      stringProperty("Expression resolving the task due date"),
			"task_directive":                stringProperty("Task directive"),
			"task_buttons":                  {Type: "array", Items: button},
			"allow_task_reassignment":       boolProperty("Whether open tasks may be reassigned"),
			"sub_route_model_expression":    stringProperty("Model id of the sub-route, literal or expr:"),
			"sub_route_variables":           {Type: "array", Items: keyValue},
			"output_transitions":            {Type: "array", Items: transition},
			"escalation_rules":              {Type: "array", Items: escalationRule},
		},
		Required: []string{"id"},
	}

	return &JSONSchema{
		Schema:      "http://json-schema.org/draft-07/schema#",
		Type:        "object",
		Title:       "Route",
		Description: "Document routing graph",
		Properties: map[string]*Property{
			"id":                    {Type: "string", MinLength: intPtr(1)},
			"name":                  {Type: "string", MinLength: intPtr(1)},
			"description":           stringProperty("Route description"),
			"model_id":              stringProperty("Model the instance was created from"),
			"state":                 {Type: "string", Enum: []any{"draft", "validated", "ready", "running", "done", "canceled"}},
			"variables":             {Type: "object"},
			"attached_document_ids": stringList("Documents the route concerns"),
			"nodes":                 {Type: "array", Items: node, MinItems: intPtr(1)},
		},
		Required: []string{"id", "name", "nodes"},
	}
}

// ValidateRouteDocument validates a decoded route document against RouteSchema.
func ValidateRouteDocument(document any) error {
	schemaLoader := gojsonschema.NewGoLoader(RouteSchema())
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate route document: %w", err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("route document does not match schema: %s", strings.Join(errors, "; "))
	}

	return nil
}
