// Package feed validates source payloads and splits them into raw posting
// items. Accepted shapes are {"postings": [...]} and a bare array.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const payloadSchema = `{
  "oneOf": [
    {"type": "array"},
    {
      "type": "object",
      "required": ["postings"],
      "properties": {"postings": {"type": "array"}}
    }
  ]
}`

var schemaLoader = gojsonschema.NewStringLoader(payloadSchema)

// ErrInvalidPayload is wrapped by every Parse failure.
var ErrInvalidPayload = errors.New("invalid postings payload")

// Parse validates body and returns its posting items undecoded. Items are not
// checked individually; per-item problems belong to normalization.
func Parse(body []byte) ([]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		items, _ := v["postings"].([]any)
		return items, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrInvalidPayload, doc)
}
