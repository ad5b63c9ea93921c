package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/layerfs/pkg/store/attr"
)

// Attribute values and intents are stored as JSON: values stay human-readable in
// dumps and any JSON-serializable value round-trips (numbers decode as float64).

func encodeValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attribute value: %w", err)
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode attribute value: %w", err)
	}
	return v, nil
}

func encodeIntent(in attr.Intent) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode move intent: %w", err)
	}
	return data, nil
}

func decodeIntent(data []byte) (attr.Intent, error) {
	var in attr.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("failed to decode move intent: %w", err)
	}
	return in, nil
}
