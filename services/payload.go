package services

import (
	"encoding/json"
	"fmt"
)

func payloadString(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

// payloadInt64 reads a numeric payload value. Numbers come back as
// float64 after the queue's JSON round trip.
func payloadInt64(payload map[string]any, key string) int64 {
	switch value := payload[key].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	}
	return 0
}

// payloadField re-decodes a nested payload value into its struct form.
// Nested values arrive as generic maps after the queue's JSON round trip.
func payloadField[T any](payload map[string]any, key string) (*T, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", key, err)
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", key, err)
	}
	return &value, nil
}
