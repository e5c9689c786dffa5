package normalize

import (
	"github.com/mitchellh/mapstructure"

	"jobmate/recommender-service/internal/model"
)

// Decode converts one decoded JSON item into a RawPosting. Scalars are coerced
// to strings, so numeric ids are accepted. Anything that is not a JSON object
// is a ValidationError.
func Decode(item any) (model.RawPosting, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return model.RawPosting{}, model.Invalidf("posting must be a JSON object, got %T", item)
	}

	var raw model.RawPosting
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return model.RawPosting{}, err
	}
	if err := dec.Decode(m); err != nil {
		return model.RawPosting{}, model.Invalidf("decode posting: %v", err)
	}
	return raw, nil
}
