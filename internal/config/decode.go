package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/jsonc"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration document.
type Format int

// Supported configuration encodings.
const (
	FormatJSON Format = iota
	FormatYAML
)

const schemaName = "build_config.schema.json"

//go:embed schema/build_config.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Parse decodes a configuration document, checks it against the schema and validates it.
func Parse(contents []byte, format Format) (*Config, error) {
	document, err := toJSON(contents, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err = checkSchema(document); err != nil {
		return nil, err
	}

	var cfg Config
	if err = json.Unmarshal(document, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// toJSON turns either encoding into plain JSON bytes.
func toJSON(contents []byte, format Format) ([]byte, error) {
	if format == FormatJSON {
		return jsonc.ToJSON(contents), nil
	}

	var raw any
	if err := yaml.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	data, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}

	return data, nil
}

// normalizeYAML converts map[any]any nodes into JSON-compatible maps.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = normalizeYAML(item)
		}

		return m
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeYAML(item)
		}

		return m
	case []any:
		a := make([]any, len(val))
		for i, item := range val {
			a[i] = normalizeYAML(item)
		}

		return a
	default:
		return val
	}
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err = c.AddResource(schemaName, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		compiledSchema, compileErr = c.Compile(schemaName)
	})

	return compiledSchema, compileErr
}

func checkSchema(document []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(issues(validationErr), "; "))
}

// issues flattens the validation error tree into "location: message" lines.
func issues(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		location := "/" + strings.Join(ve.InstanceLocation, "/")

		if ve.ErrorKind == nil {
			return []string{location + ": " + ve.Error()}
		}

		return []string{location + ": " + ve.ErrorKind.LocalizedString(printer)}
	}

	result := make([]string, 0, len(ve.Causes))
	for _, cause := range ve.Causes {
		result = append(result, issues(cause)...)
	}

	return result
}
