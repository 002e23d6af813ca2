package decode

import (
	"encoding/json"

	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/pkg/errors"
)

// As converts a decoded value into a concrete type, e.g. []channels.Signal.
func As[T any](v Value) helpers.Result[T] {
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return helpers.NewErrorResult[T](errors.Wrap(err, "could not re-encode value"))
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return helpers.NewErrorResult[T](errors.Wrapf(err, "value does not fit %T", out))
	}
	return helpers.NewValueResult(out)
}
