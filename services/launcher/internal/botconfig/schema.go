package botconfig

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
)

// Avoid needing to ship the schema separately
//
//go:embed schemas/worker_config.json
var schemaFiles embed.FS

const workerConfigSchema = "schemas/worker_config.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema(c *jsonschema.Compiler, path string) (*jsonschema.Schema, error) {
	f, err := schemaFiles.Open(path)
	if err != nil {
		return nil, err
	}
	defer helpers.CloseOrLog(f)

	inst, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, err
	}
	if err := c.AddResource("embed://"+path, inst); err != nil {
		return nil, err
	}
	return c.Compile("embed://" + path)
}

func workerSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = loadSchema(jsonschema.NewCompiler(), workerConfigSchema)
	})
	return compiledSchema, schemaErr
}

// validate checks the fields the launcher reads or rewrites; everything else in
// the document belongs to the worker and is passed through untouched.
func validate(doc []byte) error {
	sch, err := workerSchema()
	if err != nil {
		return fmt.Errorf("compile worker config schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	return nil
}
