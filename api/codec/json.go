// Package codec registers the JSON wire codec used by the sessionguard gRPC services.
// Clients select it with grpc.CallContentSubtype(codec.Name); the server picks it from the
// request content-type (application/grpc+json).
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype of the codec.
const Name = "json"

func init() {
	encoding.RegisterCodec(JSON{})
}

// JSON is a grpc encoding.Codec over encoding/json. Messages are plain Go structs with json tags.
type JSON struct{}

// Marshal implements encoding.Codec.
func (JSON) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal implements encoding.Codec. An empty payload leaves v at its zero value.
func (JSON) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name implements encoding.Codec.
func (JSON) Name() string { return Name }
