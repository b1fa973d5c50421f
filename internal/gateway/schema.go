package gateway

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBase = "https://contactsync.local/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// validator checks payloads before they leave the device so malformed
// records fail permanently instead of burning retries against the remote.
type validator struct {
	contact    *jsonschema.Schema
	invitation *jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	for _, name := range []string{"contact.json", "invitation.json"} {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	contact, err := c.Compile(schemaBase + "contact.json")
	if err != nil {
		return nil, err
	}
	invitation, err := c.Compile(schemaBase + "invitation.json")
	if err != nil {
		return nil, err
	}
	return &validator{contact: contact, invitation: invitation}, nil
}

func validate(s *jsonschema.Schema, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return s.Validate(inst)
}
