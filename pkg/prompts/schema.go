package prompts

import (
	"encoding/json"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// DefaultTypes maps buffered channels to the Go type their JSON must fit. The type's
// schema is shown to the model.
func DefaultTypes() map[channels.Name]interface{} {
	return map[channels.Name]interface{}{
		channels.Signals: []channels.Signal{},
		channels.Actions: []channels.Action{},
	}
}

// SchemaFor reflects a JSON schema for v, inlining all definitions.
func SchemaFor(v interface{}) (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""

	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "could not marshal schema")
	}
	return string(b), nil
}
