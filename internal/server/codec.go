// ABOUTME: Conversion between domain types and google.protobuf.Struct messages
// ABOUTME: Values travel in their JSON form so the wire matches the stored records

package server

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct encodes v, which must marshal to a JSON object
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return msg, nil
}

// fromStruct decodes msg into v
func fromStruct(msg *structpb.Struct, v any) error {
	if msg == nil {
		msg = &structpb.Struct{}
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
