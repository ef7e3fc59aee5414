package host

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "snapshot.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func snapshotSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(snapshotSchemaURL, bytes.NewReader(snapshotSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(snapshotSchemaURL)
	})
	return schema, schemaErr
}

// DecodeSnapshot validates data against the snapshot schema and decodes it.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	sch, err := snapshotSchema()
	if err != nil {
		return nil, err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
