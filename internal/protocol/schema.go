package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const envelopeSchemaURL = "beam://schemas/envelope.schema.json"

// Validator checks raw envelopes against the embedded JSON schema before they
// are decoded and sequenced.
type Validator struct {
	envelope *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	raw, err := schemaFS.ReadFile("schemas/envelope.schema.json")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("envelope schema: %w", err)
	}
	s, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Validator{envelope: s}, nil
}

func (v *Validator) ValidateEnvelope(b []byte) error {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return v.envelope.Validate(doc)
}
