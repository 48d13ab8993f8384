package cache

import (
	"encoding/json"
	"fmt"
)

// converts values to and from the opaque byte form stored by backends
type Serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

// structured serialization via encoding/json; the default
type JSONSerializer struct{}

func (JSONSerializer) Marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}

	return data, nil
}

func (JSONSerializer) Unmarshal(data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to deserialize cached value: %w", err)
	}

	return nil
}

// passthrough serialization for callers that manage bytes themselves.
// accepts []byte and string values only.
type RawSerializer struct{}

func (RawSerializer) Marshal(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: raw serializer requires []byte or string, got %T", ErrNotSerializable, value)
	}
}

func (RawSerializer) Unmarshal(data []byte, dest any) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = data
		return nil
	case *string:
		*d = string(data)
		return nil
	default:
		return fmt.Errorf("%w: raw serializer requires *[]byte or *string, got %T", ErrNotSerializable, dest)
	}
}
