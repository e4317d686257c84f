package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/routing/pkg/models"
	"gopkg.in/yaml.v3"
)

// loadRoute reads a route document written in YAML or JSON, checks it
// against the route schema and decodes it.
func loadRoute(path string) (*models.GraphRoute, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route document: %w", err)
	}

	return parseRoute(body)
}

func parseRoute(body []byte) (*models.GraphRoute, error) {
	var document map[string]any

	// JSON documents are valid YAML
	err := yaml.Unmarshal(body, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route document: %w", err)
	}

	err = models.ValidateRouteDocument(document)
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize route document: %w", err)
	}

	var route models.GraphRoute

	err = json.Unmarshal(normalized, &route)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route: %w", err)
	}

	if route.State == "" {
		route.State = models.RouteStateDraft
	}

	return &route, nil
}
