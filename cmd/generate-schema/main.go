package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/layerfs/pkg/config"
)

// generate-schema writes the JSON schema of the layerfs configuration file.
//
//	generate-schema [output]   (default: config.schema.json, "-" for stdout)
func main() {
	reflector := jsonschema.Reflector{
		// Property names must match the keys viper decodes
		FieldNameTag:               "mapstructure",
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "layerfs Configuration"
	schema.Description = "Configuration schema for layerfs (YAML or TOML, LAYERFS_* environment overrides)"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if outputFile == "-" {
		fmt.Println(string(schemaJSON))
		return
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}
