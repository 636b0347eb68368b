package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"maps-and-minis/server/internal/net/proto"
	"maps-and-minis/server/internal/statesync"
)

// protoschema emits JSON schemas for the wire protocol so client teams can
// validate their payloads without reading Go source.
func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	targets := []struct {
		name        string
		title       string
		description string
		value       any
	}{
		{
			name:        "envelope",
			title:       "Maps & Minis Client Envelope",
			description: "Validates inbound websocket frames",
			value:       new(proto.Envelope),
		},
		{
			name:        "update",
			title:       "Maps & Minis State Update",
			description: "Validates entries in the session update log",
			value:       new(statesync.Update),
		},
		{
			name:        "sync-message",
			title:       "Maps & Minis Sync Message",
			description: "Validates full and delta sync frames",
			value:       new(statesync.Message),
		},
	}

	for _, target := range targets {
		schema := buildSchema(target.title, target.description, target.value)
		outPath := filepath.Join(outDir, target.name+".schema.json")
		if err := writeSchema(outPath, schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", target.name, err)
			os.Exit(1)
		}
	}
}

func buildSchema(title, description string, value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(value)
	schema.Title = title
	schema.Description = description
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
