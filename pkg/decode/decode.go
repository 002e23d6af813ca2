// Package decode turns the raw text of a buffered channel into a typed value.
package decode

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/kaptinlin/jsonrepair"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrShape  = errors.New("decoded value has the wrong shape")
	ErrSchema = errors.New("decoded value does not match the channel schema")
)

// Options control how forgiving decoding is.
type Options struct {
	// Repair runs malformed JSON through jsonrepair once before giving up.
	Repair bool `yaml:"repair" mapstructure:"repair"`
	// Validate checks the value against the channel's JSON schema, if it has one.
	Validate bool `yaml:"validate" mapstructure:"validate"`
}

// Value is the decoded content of a channel. Exactly one of Text, List or Object is
// meaningful, selected by Shape.
type Value struct {
	Shape    channels.Shape
	Text     string
	List     []interface{}
	Object   map[string]interface{}
	Repaired bool
}

// Default returns the channel's default value.
func Default(spec channels.Spec) Value {
	v := Value{Shape: spec.Shape}
	switch d := spec.Default().(type) {
	case []interface{}:
		v.List = d
	case map[string]interface{}:
		v.Object = d
	case string:
		v.Text = d
	}
	return v
}

// Text wraps the full text of a streaming channel.
func Text(s string) Value {
	return Value{Shape: channels.ShapeText, Text: s}
}

// Interface returns the plain Go value (string, []interface{} or map[string]interface{}).
func (v Value) Interface() interface{} {
	switch v.Shape {
	case channels.ShapeList:
		if v.List == nil {
			return []interface{}{}
		}
		return v.List
	case channels.ShapeObject:
		if v.Object == nil {
			return map[string]interface{}{}
		}
		return v.Object
	default:
		return v.Text
	}
}

// MarshalJSON serializes the value as its plain JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON restores a value serialized by MarshalJSON, inferring the shape from
// the JSON type.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case []interface{}:
		*v = Value{Shape: channels.ShapeList, List: x}
	case map[string]interface{}:
		*v = Value{Shape: channels.ShapeObject, Object: x}
	case string:
		*v = Value{Shape: channels.ShapeText, Text: x}
	case nil:
		*v = Value{}
	default:
		return errors.Errorf("cannot restore a channel value from %T", raw)
	}
	return nil
}

// Decode parses raw according to the channel's shape. Empty input decodes to the
// default value. Failures are returned as an error result; callers substitute Default.
func Decode(spec channels.Spec, raw string, opts Options) helpers.Result[Value] {
	if spec.Shape == channels.ShapeText {
		return helpers.NewValueResult(Text(raw))
	}

	body := strings.TrimSpace(raw)
	if body == "" {
		return helpers.NewValueResult(Default(spec))
	}
	if fenced, ok := StripFence(body); ok {
		body = strings.TrimSpace(fenced)
	}

	var parsed interface{}
	repaired := false
	err := json.Unmarshal([]byte(body), &parsed)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if !opts.Repair || !errors.As(err, &syntaxErr) {
			return helpers.NewErrorResult[Value](errors.Wrapf(err, "channel %s", spec.Name))
		}
		fixed, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return helpers.NewErrorResult[Value](errors.Wrapf(err, "channel %s (repair failed: %v)", spec.Name, rerr))
		}
		if err := json.Unmarshal([]byte(fixed), &parsed); err != nil {
			return helpers.NewErrorResult[Value](errors.Wrapf(err, "channel %s after repair", spec.Name))
		}
		repaired = true
		body = fixed
	}

	v := Value{Shape: spec.Shape, Repaired: repaired}
	switch spec.Shape {
	case channels.ShapeList:
		list, ok := parsed.([]interface{})
		if !ok {
			return helpers.NewErrorResult[Value](errors.Wrapf(ErrShape, "channel %s: expected a JSON array", spec.Name))
		}
		v.List = list
	case channels.ShapeObject:
		obj, ok := parsed.(map[string]interface{})
		if !ok {
			return helpers.NewErrorResult[Value](errors.Wrapf(ErrShape, "channel %s: expected a JSON object", spec.Name))
		}
		v.Object = obj
	}

	if opts.Validate && spec.Schema != "" {
		if err := validate(spec.Schema, body); err != nil {
			return helpers.NewErrorResult[Value](errors.Wrapf(err, "channel %s", spec.Name))
		}
	}

	return helpers.NewValueResult(v)
}

func validate(schema string, document string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(document),
	)
	if err != nil {
		return errors.Wrap(err, "failed to validate json")
	}
	if result.Valid() {
		return nil
	}
	descs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descs = append(descs, desc.String())
	}
	return errors.Wrap(ErrSchema, strings.Join(descs, "; "))
}
