package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var ErrInvalidPayload = errors.New("protocol: invalid payload")

var (
	schemasOnce sync.Once
	schemasErr  error
	controlSch  *jsonschema.Schema
	snapshotSch *jsonschema.Schema
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		for _, name := range []string{"control.schema.json", "snapshot.schema.json"} {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		if controlSch, schemasErr = c.Compile("control.schema.json"); schemasErr != nil {
			return
		}
		snapshotSch, schemasErr = c.Compile("snapshot.schema.json")
	})
	return schemasErr
}

// ValidateControl checks raw against the CONTROL schema and decodes it.
func ValidateControl(raw []byte) (ControlRequest, error) {
	if err := validate(raw, func() *jsonschema.Schema { return controlSch }); err != nil {
		return ControlRequest{}, err
	}
	var req ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ControlRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return req, nil
}

func ValidateSnapshot(raw []byte) error {
	return validate(raw, func() *jsonschema.Schema { return snapshotSch })
}

func validate(raw []byte, schema func() *jsonschema.Schema) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema().Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
