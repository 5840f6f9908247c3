package descriptor

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/raphi011/proberun/internal/model"
)

//go:embed descriptor.schema.json
var schemaData []byte

var (
	schema      *jsonschema.Schema
	compileOnce sync.Once
	compileErr  error
)

func compileSchema() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()

		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal descriptor schema: %w", err)
			return
		}

		if err := compiler.AddResource("descriptor.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add descriptor schema resource: %w", err)
			return
		}

		schema, err = compiler.Compile("descriptor.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile descriptor schema: %w", err)
		}
	})

	return compileErr
}

// Format of an imported descriptor document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// InvalidDescriptorError is returned for documents that don't describe a
// valid descriptor.
type InvalidDescriptorError struct {
	Err error
}

func (e InvalidDescriptorError) Error() string {
	return "invalid descriptor: " + e.Err.Error()
}

func (e InvalidDescriptorError) Unwrap() error {
	return e.Err
}

type document struct {
	ID               string            `json:"id"`
	Revision         int64             `json:"revision"`
	Name             string            `json:"name"`
	ShortDescription string            `json:"short_description"`
	ExpirationDate   *time.Time        `json:"expiration_date"`
	AutoUpdate       bool              `json:"auto_update"`
	NetTests         []documentNetTest `json:"nettests"`
	LongRunningTests []documentNetTest `json:"long_running_tests"`
}

type documentNetTest struct {
	TestName string   `json:"test_name"`
	Inputs   []string `json:"inputs"`
}

// Parse decodes and validates a descriptor document.
func Parse(data []byte, format Format) (model.Descriptor, error) {
	if err := compileSchema(); err != nil {
		return model.Descriptor{}, err
	}

	jsonData := data

	if format == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return model.Descriptor{}, InvalidDescriptorError{Err: fmt.Errorf("invalid YAML: %w", err)}
		}

		converted, err := json.Marshal(v)
		if err != nil {
			return model.Descriptor{}, InvalidDescriptorError{Err: fmt.Errorf("converting YAML: %w", err)}
		}

		jsonData = converted
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return model.Descriptor{}, InvalidDescriptorError{Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	if err := schema.Validate(inst); err != nil {
		return model.Descriptor{}, InvalidDescriptorError{Err: err}
	}

	var doc document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return model.Descriptor{}, InvalidDescriptorError{Err: err}
	}

	d := model.Descriptor{
		Name:             doc.Name,
		Source:           model.InstalledSource{ID: model.DescriptorID(doc.ID)},
		Revision:         doc.Revision,
		ShortDescription: doc.ShortDescription,
		ExpirationDate:   doc.ExpirationDate,
		AutoUpdate:       doc.AutoUpdate,
		NetTests:         netTests(doc.NetTests),
		LongRunningTests: netTests(doc.LongRunningTests),
	}

	return d, nil
}

// Import parses a descriptor document and installs it.
func (c *Catalog) Import(ctx context.Context, data []byte, format Format) (model.Descriptor, error) {
	d, err := Parse(data, format)
	if err != nil {
		return model.Descriptor{}, err
	}

	return c.repo.SaveDescriptor(ctx, d)
}

func netTests(tests []documentNetTest) []model.NetTest {
	converted := make([]model.NetTest, 0, len(tests))

	for _, t := range tests {
		converted = append(converted, model.NetTest{Name: model.TestType(t.TestName), Inputs: t.Inputs})
	}

	return converted
}

// FormatFromContentType defaults to JSON for unknown content types.
func FormatFromContentType(contentType string) Format {
	switch contentType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return FormatYAML
	}

	return FormatJSON
}

// FormatFromFilename picks the format by file extension.
func FormatFromFilename(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	}

	return FormatJSON
}
