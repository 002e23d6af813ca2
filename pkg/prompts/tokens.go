package prompts

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

const DefaultEncoding = "cl100k_base"

// CountTokens returns how many tokens text takes in the given tiktoken encoding.
func CountTokens(text string, encoding string) (int, error) {
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return 0, errors.Wrapf(err, "unknown encoding %q", encoding)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
