// Command generate-schema writes the JSON schema of the dsu configuration
// file, for editor completion and validation of config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittodsu/pkg/config"
	"github.com/spf13/pflag"
)

const schemaID = "https://github.com/marmos91/dittodsu/config.schema.json"

// sectionDocs describes the top-level sections of config.Config.
var sectionDocs = map[string]string{
	"logging":     "Log level, format and destination",
	"server":      "HTTP node exposing the local backends",
	"anchoring":   "Anchor persistence backend and history verification",
	"bricks":      "Object store holding content-addressed bricks",
	"versionless": "Object store holding versionless blobs",
	"domains":     "Per-domain remote endpoints used by the remote backends",
	"transport":   "HTTP client settings for remote backends",
	"cache":       "Resolver cache of loaded storage units",
}

func main() {
	flags := pflag.NewFlagSet("generate-schema", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "config.schema.json", "Schema file to write, - for stdout")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	// Positional form kept for existing make targets
	if flags.NArg() > 0 {
		*output = flags.Arg(0)
	}

	schemaJSON, err := json.MarshalIndent(buildSchema(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if err := write(*output, append(schemaJSON, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema: %v\n", err)
		os.Exit(1)
	}
	if *output != "-" {
		fmt.Printf("JSON schema written to %s\n", *output)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
		// Durations are decoded from strings such as "5s"
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = jsonschema.ID(schemaID)
	schema.Title = "dittodsu Configuration"
	schema.Description = "Configuration of the dsu node and CLI"

	if schema.Properties != nil {
		for name, doc := range sectionDocs {
			if section, ok := schema.Properties.Get(name); ok {
				section.Description = doc
			}
		}
	}
	return schema
}

func write(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
